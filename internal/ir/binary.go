package ir

import (
	"encoding/binary"
	"math"
)

// Writer accumulates a big-endian binary encoding.
type Writer struct {
	buf []byte
}

// NewWriter returns a writer with capacity for n bytes.
func NewWriter(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n)}
}

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) PutByte(b byte) { w.buf = append(w.buf, b) }

func (w *Writer) PutInt32(n int32) { w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(n)) }

func (w *Writer) PutInt64(n int64) { w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(n)) }

func (w *Writer) PutUint64(n uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, n) }

// PutString writes an int32 length prefix followed by the bytes of s.
func (w *Writer) PutString(s string) {
	w.PutInt32(int32(len(s)))
	w.buf = append(w.buf, s...)
}

// PutBytes writes an int32 length prefix followed by b.
func (w *Writer) PutBytes(b []byte) {
	w.PutInt32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// PutTaskID writes the 16-byte TaskID encoding.
func (w *Writer) PutTaskID(id TaskID) {
	w.PutInt32(id.QueryID)
	w.PutUint64(uint64(id.Origin))
	w.PutInt32(id.Seq)
}

// PutValue writes [tag][payload]; a missing value is the single tag byte 0.
func (w *Writer) PutValue(v Value) {
	if v == nil {
		w.PutByte(byte(KindMissing))
		return
	}
	w.PutByte(byte(v.Kind()))
	w.PutPayload(v)
}

// PutPayload writes only the fixed-width payload of v.
func (w *Writer) PutPayload(v Value) {
	switch val := v.(type) {
	case *Bool:
		if val.V {
			w.PutByte(1)
		} else {
			w.PutByte(0)
		}
	case *Byte:
		w.PutByte(byte(val.V))
	case *Int32:
		w.PutInt32(val.V)
	case *Int64:
		w.PutInt64(val.V)
	case *Float32:
		w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(val.V))
	case *NodeAddress:
		w.PutUint64(uint64(val.V))
	}
}

// Reader decodes a big-endian binary encoding. The first failure is sticky:
// later reads return zero values and Err reports the original failure.
type Reader struct {
	buf []byte
	off int
	op  string
	err error
}

// NewReader returns a reader over b. op names the decoding operation in
// error messages.
func NewReader(op string, b []byte) *Reader {
	return &Reader{buf: b, op: op}
}

// Err returns the first decoding failure.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Done fails the reader if unread bytes remain and returns Err.
func (r *Reader) Done() error {
	if r.err == nil && r.Remaining() != 0 {
		r.err = DecodeError(r.op, "%d trailing bytes", r.Remaining())
	}
	return r.err
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = DecodeError(r.op, "truncated input: need %d bytes at offset %d, have %d", n, r.off, r.Remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Int32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

func (r *Reader) Uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Str reads a length-prefixed string.
func (r *Reader) Str() string {
	return string(r.Blob())
}

// Blob reads a length-prefixed byte slice. The result aliases the input.
func (r *Reader) Blob() []byte {
	n := r.Int32()
	if r.err != nil {
		return nil
	}
	if n < 0 {
		r.err = DecodeError(r.op, "negative length %d", n)
		return nil
	}
	return r.take(int(n))
}

// TaskID reads a 16-byte TaskID.
func (r *Reader) TaskID() TaskID {
	q := r.Int32()
	o := r.Uint64()
	s := r.Int32()
	return TaskID{QueryID: q, Origin: Addr(o), Seq: s}
}

// Value reads a tagged value; tag 0 yields nil.
func (r *Reader) Value() Value {
	k := Kind(r.Uint8())
	if r.err != nil || k == KindMissing {
		return nil
	}
	if !k.Valid() {
		r.err = DecodeError(r.op, "unknown value tag %#x", byte(k))
		return nil
	}
	return r.Payload(k)
}

// Payload reads the untagged payload of a value of kind k.
func (r *Reader) Payload(k Kind) Value {
	if !k.Valid() {
		r.fail("unknown value kind %#x", byte(k))
		return nil
	}
	b := r.take(k.Width())
	if b == nil {
		return nil
	}
	switch k {
	case KindBool:
		return NewBool(b[0] != 0)
	case KindByte:
		return NewByte(int8(b[0]))
	case KindInt32:
		return NewInt32(int32(binary.BigEndian.Uint32(b)))
	case KindInt64:
		return NewInt64(int64(binary.BigEndian.Uint64(b)))
	case KindFloat32:
		return NewFloat32(math.Float32frombits(binary.BigEndian.Uint32(b)))
	default:
		return NewNodeAddress(Addr(binary.BigEndian.Uint64(b)))
	}
}

func (r *Reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = DecodeError(r.op, format, args...)
	}
}

// EncodeValue returns the tagged binary encoding of v.
func EncodeValue(v Value) []byte {
	w := NewWriter(9)
	w.PutValue(v)
	return w.Bytes()
}

// DecodeValue decodes a single tagged value occupying all of b.
func DecodeValue(b []byte) (Value, error) {
	r := NewReader("decode value", b)
	v := r.Value()
	if err := r.Done(); err != nil {
		return nil, err
	}
	return v, nil
}
