package node

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/scheduler"
)

// ControlQuery is the query ID of tasks that belong to no query: time sync,
// routing, properties and sampling.
const ControlQuery int32 = 0

// KillTask stops a query on every node it reaches. Its TaskID carries the
// query being killed.
type KillTask struct {
	scheduler.Base
	node *Node
}

func newKill(n *Node, id ir.TaskID) *KillTask {
	return &KillTask{
		Base: scheduler.Base{D: scheduler.NewDetails(id, KindKill.String(), n.clock.Now(), 0, 1)},
		node: n,
	}
}

func (k *KillTask) Kind() Kind                    { return KindKill }
func (k *KillTask) encodeFields(*ir.Writer) error { return nil }

// initNode tombstones the query so deliveries racing the kill are refused.
func (k *KillTask) initNode(context.Context) error {
	k.node.tombstone(k.D.ID.QueryID)
	return nil
}

// Run forwards the kill to the children, then removes the query's tasks
// from this node, this task included.
func (k *KillTask) Run(ctx context.Context, _ time.Time) error {
	n := k.node
	n.broadcast(ctx, k)
	killed := n.sched.Kill(k.D.ID.QueryID)
	n.logger.Info("query killed", "query", k.D.ID.QueryID, "tasks", killed)
	return nil
}

// TimeSyncTask carries the sender's synchronized time down the tree.
type TimeSyncTask struct {
	scheduler.Base
	node   *Node
	Synced time.Time
}

func newTimeSync(n *Node, id ir.TaskID, synced time.Time) *TimeSyncTask {
	return &TimeSyncTask{
		Base:   scheduler.Base{D: scheduler.NewDetails(id, KindTimeSync.String(), n.clock.Now(), 0, 1)},
		node:   n,
		Synced: synced,
	}
}

func decodeTimeSync(n *Node, id ir.TaskID, r *ir.Reader) (*TimeSyncTask, error) {
	synced := r.Int64()
	if err := r.Err(); err != nil {
		return nil, err
	}
	return newTimeSync(n, id, time.Unix(0, synced).UTC()), nil
}

func (t *TimeSyncTask) Kind() Kind { return KindTimeSync }

func (t *TimeSyncTask) encodeFields(w *ir.Writer) error {
	w.PutInt64(t.Synced.UnixNano())
	return nil
}

// Run adopts the carried time, except at the root which is the reference,
// and passes this node's synchronized time on to the children.
func (t *TimeSyncTask) Run(ctx context.Context, _ time.Time) error {
	n := t.node
	if n.net.Role() != ir.RoleBase {
		offset := n.clock.Adopt(t.Synced)
		n.logger.Debug("clock synchronized", "offset", offset)
	}
	n.broadcast(ctx, newTimeSync(n, t.D.ID, n.clock.Now()))
	return nil
}

// RouteTask carries an encoded task to a destination node, one hop per
// delivery.
type RouteTask struct {
	scheduler.Base
	node  *Node
	Dest  ir.Addr
	Inner []byte
}

func newRoute(n *Node, id ir.TaskID, dest ir.Addr, inner []byte) *RouteTask {
	return &RouteTask{
		Base:  scheduler.Base{D: scheduler.NewDetails(id, KindRoute.String(), n.clock.Now(), 0, 1)},
		node:  n,
		Dest:  dest,
		Inner: inner,
	}
}

func decodeRoute(n *Node, id ir.TaskID, r *ir.Reader) (*RouteTask, error) {
	dest := ir.Addr(r.Uint64())
	inner := r.Blob()
	if err := r.Err(); err != nil {
		return nil, err
	}
	return newRoute(n, id, dest, append([]byte(nil), inner...)), nil
}

func (t *RouteTask) Kind() Kind { return KindRoute }

func (t *RouteTask) encodeFields(w *ir.Writer) error {
	w.PutUint64(uint64(t.Dest))
	w.PutBytes(t.Inner)
	return nil
}

// Run delivers the inner task here when this node is the destination, and
// otherwise forwards the route down toward a descendant or up to the parent.
func (t *RouteTask) Run(ctx context.Context, _ time.Time) error {
	n := t.node
	if t.Dest == n.addr {
		inner, err := n.Decode(t.Inner)
		if err != nil {
			return fmt.Errorf("route %s: %w", t.D.ID, err)
		}
		_, err = n.accept(ctx, inner, false)
		return err
	}

	data, err := Encode(t)
	if err != nil {
		return err
	}
	if n.net.IsDescendant(t.Dest) {
		return n.net.SendToDescendant(ctx, t.Dest, data)
	}
	if _, ok := n.net.Parent(); ok {
		return n.net.SendToParent(ctx, data)
	}
	return ir.TransportError("route", fmt.Errorf("node %d unreachable from the root", t.Dest))
}

// SetPropertyTask sets a node property.
type SetPropertyTask struct {
	scheduler.Base
	node  *Node
	Key   string
	Value ir.Value
}

func newSetProperty(n *Node, id ir.TaskID, key string, value ir.Value) *SetPropertyTask {
	return &SetPropertyTask{
		Base:  scheduler.Base{D: scheduler.NewDetails(id, KindSetProperty.String(), n.clock.Now(), 0, 1)},
		node:  n,
		Key:   key,
		Value: value,
	}
}

func decodeSetProperty(n *Node, id ir.TaskID, r *ir.Reader) (*SetPropertyTask, error) {
	key := r.Str()
	tok := r.Str()
	if err := r.Err(); err != nil {
		return nil, err
	}
	v, err := ir.ParseToken(tok)
	if err != nil {
		return nil, err
	}
	return newSetProperty(n, id, key, v), nil
}

func (t *SetPropertyTask) Kind() Kind { return KindSetProperty }

func (t *SetPropertyTask) encodeFields(w *ir.Writer) error {
	tok, err := ir.FormatToken(t.Value)
	if err != nil {
		return err
	}
	w.PutString(t.Key)
	w.PutString(tok)
	return nil
}

func (t *SetPropertyTask) Run(ctx context.Context, _ time.Time) error {
	return t.node.setProperty(ctx, t.Key, t.Value)
}

// SensorSampleTask periodically refreshes the node's latest sensor reading.
type SensorSampleTask struct {
	scheduler.Base
	node  *Node
	Start time.Time
}

func newSensorSample(n *Node, id ir.TaskID, start time.Time, period time.Duration, runs int32) *SensorSampleTask {
	return &SensorSampleTask{
		Base:  scheduler.Base{D: scheduler.NewDetails(id, KindSensorSample.String(), start, period, runs)},
		node:  n,
		Start: start,
	}
}

func decodeSensorSample(n *Node, id ir.TaskID, r *ir.Reader) (*SensorSampleTask, error) {
	start := r.Int64()
	period := r.Int64()
	runs := r.Int32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if period <= 0 {
		return nil, ir.DecodeError("decode sensor sample", "non-positive period %d", period)
	}
	return newSensorSample(n, id, time.Unix(0, start).UTC(), time.Duration(period), runs), nil
}

func (t *SensorSampleTask) Kind() Kind { return KindSensorSample }

func (t *SensorSampleTask) encodeFields(w *ir.Writer) error {
	w.PutInt64(t.Start.UnixNano())
	w.PutInt64(int64(t.D.Period))
	w.PutInt32(t.D.RunsTotal)
	return nil
}

func (t *SensorSampleTask) Run(ctx context.Context, due time.Time) error {
	epoch := int64(due.Sub(t.Start) / t.D.Period)
	if err := t.node.sampler.Sample(ctx, epoch); err != nil {
		return ir.TransportError("sample", err)
	}
	return nil
}

// TornDown stops serving cached samples once sampling ends.
func (t *SensorSampleTask) TornDown() {
	t.node.sampler.Stop()
}
