package ir

import "fmt"

// TaskIDSize is the length of a binary-encoded TaskID.
const TaskIDSize = 16

// TaskID identifies a task network-wide: the query it belongs to, the node
// that created it and that node's local sequence number. TaskID is a
// comparable value and is used directly as a map key.
type TaskID struct {
	QueryID int32
	Origin  Addr
	Seq     int32
}

func (id TaskID) String() string {
	return fmt.Sprintf("%d/%d/%d", id.QueryID, id.Origin, id.Seq)
}

// EncodeTaskID returns the 16-byte encoding of id.
func EncodeTaskID(id TaskID) []byte {
	w := NewWriter(TaskIDSize)
	w.PutTaskID(id)
	return w.Bytes()
}

// DecodeTaskID decodes a 16-byte TaskID.
func DecodeTaskID(b []byte) (TaskID, error) {
	r := NewReader("decode task id", b)
	id := r.TaskID()
	if err := r.Done(); err != nil {
		return TaskID{}, err
	}
	return id, nil
}
