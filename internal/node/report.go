package node

import (
	"context"
	"time"

	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/scheduler"
	"github.com/roach88/sensornet/internal/store"
)

// TransmitResultTask hands a child's table for one epoch to the owning
// query on the parent.
type TransmitResultTask struct {
	scheduler.Base
	node *Node

	Owner  ir.TaskID
	Epoch  int64
	Sender ir.Addr
	Table  *ir.Table
	schema ir.Schema
}

func newTransmitResult(n *Node, id, owner ir.TaskID, epoch int64, sender ir.Addr, table *ir.Table, schema ir.Schema) *TransmitResultTask {
	return &TransmitResultTask{
		Base:   scheduler.Base{D: scheduler.NewDetails(id, KindTransmitResult.String(), n.clock.Now(), 0, 1)},
		node:   n,
		Owner:  owner,
		Epoch:  epoch,
		Sender: sender,
		Table:  table,
		schema: schema,
	}
}

// decodeTransmitResult needs the owning query's schema to read the table;
// an unregistered owner is an ErrCodeNotFound error.
func decodeTransmitResult(n *Node, id ir.TaskID, r *ir.Reader) (*TransmitResultTask, error) {
	owner := r.TaskID()
	epoch := r.Int64()
	sender := ir.Addr(r.Uint64())
	blob := r.Blob()
	if err := r.Err(); err != nil {
		return nil, err
	}
	q, err := n.registry.Lookup(owner)
	if err != nil {
		return nil, err
	}
	table, err := ir.DecodeTable(blob, q.Schema)
	if err != nil {
		return nil, err
	}
	return newTransmitResult(n, id, owner, epoch, sender, table, q.Schema), nil
}

func (t *TransmitResultTask) Kind() Kind { return KindTransmitResult }

func (t *TransmitResultTask) encodeFields(w *ir.Writer) error {
	b, err := ir.EncodeTable(t.Table, t.schema)
	if err != nil {
		return err
	}
	w.PutTaskID(t.Owner)
	w.PutInt64(t.Epoch)
	w.PutUint64(uint64(t.Sender))
	w.PutBytes(b)
	return nil
}

// Run stores the table with the owning query. A query that is gone makes
// the result moot.
func (t *TransmitResultTask) Run(context.Context, time.Time) error {
	n := t.node
	q, err := n.registry.Lookup(t.Owner)
	if err != nil {
		n.logger.Debug("result dropped", "query", t.Owner, "epoch", t.Epoch, "sender", t.Sender, "reason", err)
		return nil
	}
	if !q.env.Results.Add(t.Epoch, t.Sender, t.Table) {
		n.logger.Debug("result ignored", "query", t.Owner, "epoch", t.Epoch, "sender", t.Sender)
		return nil
	}
	n.metrics.results.Inc()
	return nil
}

// ExceptionTask carries an evaluation failure toward the root.
type ExceptionTask struct {
	scheduler.Base
	node *Node
	Exc  store.Exception
}

func newException(n *Node, id ir.TaskID, exc store.Exception) *ExceptionTask {
	return &ExceptionTask{
		Base: scheduler.Base{D: scheduler.NewDetails(id, KindException.String(), n.clock.Now(), 0, 1)},
		node: n,
		Exc:  exc,
	}
}

func decodeException(n *Node, id ir.TaskID, r *ir.Reader) (*ExceptionTask, error) {
	exc := store.Exception{
		Query:    r.TaskID(),
		Epoch:    r.Int64(),
		Reporter: ir.Addr(r.Uint64()),
		Code:     ir.ErrorCode(r.Str()),
		Message:  r.Str(),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return newException(n, id, exc), nil
}

func (t *ExceptionTask) Kind() Kind { return KindException }

func (t *ExceptionTask) encodeFields(w *ir.Writer) error {
	w.PutTaskID(t.Exc.Query)
	w.PutInt64(t.Exc.Epoch)
	w.PutUint64(uint64(t.Exc.Reporter))
	w.PutString(string(t.Exc.Code))
	w.PutString(t.Exc.Message)
	return nil
}

// Run surfaces the exception at the root and passes it up elsewhere.
func (t *ExceptionTask) Run(ctx context.Context, _ time.Time) error {
	n := t.node
	if _, ok := n.net.Parent(); !ok {
		n.surface(ctx, t.Exc)
		return nil
	}
	data, err := Encode(t)
	if err != nil {
		return err
	}
	return n.net.SendToParent(ctx, data)
}
