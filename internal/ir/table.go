package ir

// Row is a fixed-length sequence of values. A nil entry is a missing value.
type Row []Value

// Table is an ordered sequence of rows owned by one query lineage.
//
// Operators never mutate a table they received; they build a new one.
type Table struct {
	Owner TaskID
	Rows  []Row

	// Partial flags the rows that are running aggregates from a lower
	// level: an aggregate reads their count column as the number of sensed
	// rows they stand for. Nil means no row is partial. Partial is local
	// state and is not encoded.
	Partial []bool
}

// NewTable creates a table owned by owner.
func NewTable(owner TaskID, rows ...Row) *Table {
	return &Table{Owner: owner, Rows: rows}
}

// Columns returns the width of the first row, or 0 for an empty table.
func (t *Table) Columns() int {
	if t == nil || len(t.Rows) == 0 {
		return 0
	}
	return len(t.Rows[0])
}

// IsPartial reports whether row i is a running aggregate.
func (t *Table) IsPartial(i int) bool {
	return t != nil && i < len(t.Partial) && t.Partial[i]
}

// MarkPartial flags every row of t as a running aggregate.
func (t *Table) MarkPartial() {
	t.Partial = make([]bool, len(t.Rows))
	for i := range t.Partial {
		t.Partial[i] = true
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Pad returns a copy of row extended with missing values up to width.
// Rows already at least width wide are copied unchanged.
func Pad(row Row, width int) Row {
	n := len(row)
	if width > n {
		n = width
	}
	out := make(Row, n)
	copy(out, row)
	return out
}

// MergeRows returns the rows of a followed by the rows of b, each padded to
// width. The result shares no slices with its inputs.
func MergeRows(a, b []Row, width int) []Row {
	out := make([]Row, 0, len(a)+len(b))
	for _, r := range a {
		out = append(out, Pad(r, width))
	}
	for _, r := range b {
		out = append(out, Pad(r, width))
	}
	return out
}

// EncodeTable writes [TaskID][int32 rows] followed by each row as a presence
// bitmap and the payloads of the present columns. Present values are cast to
// their schema column kind; rows narrower than the schema are padded with
// missing values.
func EncodeTable(t *Table, schema Schema) ([]byte, error) {
	w := NewWriter(TaskIDSize + 4 + t.Len()*(len(schema)*4+bitmapLen(len(schema))))
	w.PutTaskID(t.Owner)
	w.PutInt32(int32(t.Len()))
	for i, row := range t.Rows {
		if len(row) > len(schema) {
			return nil, DecodeError("encode table", "row %d has %d columns, schema %q has %d", i, len(row), schema.String(), len(schema))
		}
		bitmap := make([]byte, bitmapLen(len(schema)))
		cast := make(Row, len(row))
		for c, v := range row {
			if v == nil {
				continue
			}
			cv, err := Cast(v, schema[c])
			if err != nil {
				return nil, err
			}
			cast[c] = cv
			bitmap[c/8] |= 1 << (c % 8)
		}
		for _, b := range bitmap {
			w.PutByte(b)
		}
		for _, v := range cast {
			if v != nil {
				w.PutPayload(v)
			}
		}
	}
	return w.Bytes(), nil
}

// DecodeTable decodes a table written by EncodeTable with the same schema.
// Every decoded row is exactly len(schema) wide.
func DecodeTable(b []byte, schema Schema) (*Table, error) {
	r := NewReader("decode table", b)
	t, err := ReadTable(r, schema)
	if err != nil {
		return nil, err
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return t, nil
}

// ReadTable decodes a table from the current position of r.
func ReadTable(r *Reader, schema Schema) (*Table, error) {
	owner := r.TaskID()
	n := r.Int32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, DecodeError("decode table", "negative row count %d", n)
	}
	// Each row needs at least its bitmap; reject counts the input cannot hold.
	bl := bitmapLen(len(schema))
	if bl == 0 && n > 0 {
		return nil, DecodeError("decode table", "%d rows for an empty schema", n)
	}
	if bl > 0 && int(n) > r.Remaining()/bl {
		return nil, DecodeError("decode table", "row count %d exceeds input", n)
	}
	t := &Table{Owner: owner, Rows: make([]Row, 0, n)}
	for i := int32(0); i < n; i++ {
		bitmap := make([]byte, bl)
		for j := range bitmap {
			bitmap[j] = r.Uint8()
		}
		row := make(Row, len(schema))
		for c, k := range schema {
			if bitmap[c/8]&(1<<(c%8)) != 0 {
				row[c] = r.Payload(k)
			}
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func bitmapLen(cols int) int {
	return (cols + 7) / 8
}
