package node

import (
	"context"
	"fmt"

	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/scheduler"
)

// Kind is the one-byte type identifier that starts every encoded task.
type Kind byte

const (
	KindQuery          Kind = 'Q'
	KindKill           Kind = 'K'
	KindTimeSync       Kind = 'T'
	KindRoute          Kind = 'R'
	KindSetProperty    Kind = 'P'
	KindSensorSample   Kind = 'S'
	KindTransmitResult Kind = 'X'
	KindException      Kind = 'E'
)

var kindNames = map[Kind]string{
	KindQuery:          "query",
	KindKill:           "kill",
	KindTimeSync:       "time_sync",
	KindRoute:          "route",
	KindSetProperty:    "set_property",
	KindSensorSample:   "sensor_sample",
	KindTransmitResult: "transmit_result",
	KindException:      "exception",
}

// Valid reports whether k is a known task kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%#x)", byte(k))
}

// Task is a scheduler task that can cross the network.
type Task interface {
	scheduler.Task

	// Kind returns the task's type identifier.
	Kind() Kind

	// encodeFields writes the fields that follow the header.
	encodeFields(w *ir.Writer) error
}

// nodeInitializer is implemented by tasks with work to do when a node
// accepts them, before they are submitted. An error refuses the task.
type nodeInitializer interface {
	initNode(ctx context.Context) error
}

// originInitializer is implemented by tasks with work to do on the node
// that created them.
type originInitializer interface {
	initOrigin(ctx context.Context) error
}

// headerSize is the kind byte plus the TaskID.
const headerSize = 1 + ir.TaskIDSize

// Encode returns the wire form [kind][TaskID][fields] of t.
func Encode(t Task) ([]byte, error) {
	w := ir.NewWriter(headerSize + 64)
	w.PutByte(byte(t.Kind()))
	w.PutTaskID(t.Details().ID)
	if err := t.encodeFields(w); err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", t.Kind(), t.Details().ID, err)
	}
	return w.Bytes(), nil
}

// Decode reads an encoded task and binds it to n. Tasks are due
// immediately unless their fields say otherwise.
//
// A TransmitResult whose query is not registered on n decodes to an
// ErrCodeNotFound error; callers drop it silently.
func (n *Node) Decode(data []byte) (Task, error) {
	r := ir.NewReader("decode task", data)
	kind := Kind(r.Uint8())
	id := r.TaskID()
	if err := r.Err(); err != nil {
		return nil, err
	}

	var (
		t   Task
		err error
	)
	switch kind {
	case KindQuery:
		t, err = decodeQuery(n, id, r)
	case KindKill:
		t, err = newKill(n, id), nil
	case KindTimeSync:
		t, err = decodeTimeSync(n, id, r)
	case KindRoute:
		t, err = decodeRoute(n, id, r)
	case KindSetProperty:
		t, err = decodeSetProperty(n, id, r)
	case KindSensorSample:
		t, err = decodeSensorSample(n, id, r)
	case KindTransmitResult:
		t, err = decodeTransmitResult(n, id, r)
	case KindException:
		t, err = decodeException(n, id, r)
	default:
		return nil, ir.DecodeError("decode task", "unknown task kind %#x", byte(kind))
	}
	if err != nil {
		return nil, err
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return t, nil
}
