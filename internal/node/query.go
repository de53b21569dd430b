package node

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/sensornet/internal/grammar"
	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/operator"
	"github.com/roach88/sensornet/internal/scheduler"
	"github.com/roach88/sensornet/internal/store"
)

// QuerySpec describes a query to start at its origin node.
type QuerySpec struct {
	ID     int32
	Plan   string
	Schema ir.Schema // schema of the tables sent between levels
	Start  time.Time
	Period time.Duration
	Runs   int32 // scheduler.Forever for no limit
}

// QueryTask evaluates a query's plan once per epoch on one node. The plan
// travels as grammar text; the transmitted tables use Schema.
type QueryTask struct {
	scheduler.Base
	node *Node

	Start  time.Time
	Schema ir.Schema
	Plan   operator.Operator
	text   string

	env *operator.Env
}

var _ Task = (*QueryTask)(nil)

func newQuery(n *Node, id ir.TaskID, start time.Time, period time.Duration, runs int32, schema ir.Schema, text string) (*QueryTask, error) {
	if id.QueryID == ControlQuery {
		return nil, fmt.Errorf("query %s: query id %d is reserved", id, ControlQuery)
	}
	if period < 0 {
		return nil, fmt.Errorf("query %s: negative period %v", id, period)
	}
	if runs == 0 || runs < scheduler.Forever {
		return nil, fmt.Errorf("query %s: invalid run count %d", id, runs)
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("query %s: empty schema", id)
	}
	plan, err := grammar.ParsePlan(text)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", id, err)
	}
	if err := operator.Validate(plan); err != nil {
		return nil, fmt.Errorf("query %s: %w", id, err)
	}
	canonical, err := grammar.FormatPlan(plan)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", id, err)
	}
	return &QueryTask{
		Base:   scheduler.Base{D: scheduler.NewDetails(id, KindQuery.String(), start, period, runs)},
		node:   n,
		Start:  start,
		Schema: schema,
		Plan:   plan,
		text:   canonical,
	}, nil
}

func decodeQuery(n *Node, id ir.TaskID, r *ir.Reader) (*QueryTask, error) {
	start := r.Int64()
	period := r.Int64()
	runs := r.Int32()
	schema := r.Str()
	text := r.Str()
	if err := r.Err(); err != nil {
		return nil, err
	}
	s, err := ir.ParseSchema(schema)
	if err != nil {
		return nil, err
	}
	return newQuery(n, id, time.Unix(0, start).UTC(), time.Duration(period), runs, s, text)
}

func (q *QueryTask) Kind() Kind { return KindQuery }

func (q *QueryTask) encodeFields(w *ir.Writer) error {
	w.PutInt64(q.Start.UnixNano())
	w.PutInt64(int64(q.D.Period))
	w.PutInt32(q.D.RunsTotal)
	w.PutString(q.Schema.String())
	w.PutString(q.text)
	return nil
}

// Text returns the canonical grammar form of the plan.
func (q *QueryTask) Text() string { return q.text }

// Env returns the evaluation context, set once the task is accepted.
func (q *QueryTask) Env() *operator.Env { return q.env }

// Epoch returns the epoch a run due at due evaluates.
func (q *QueryTask) Epoch(due time.Time) int64 {
	if q.D.Period <= 0 {
		return 0
	}
	return int64(due.Sub(q.Start) / q.D.Period)
}

// initNode aligns the first run to the next epoch boundary, registers the
// query and passes it on to every child.
func (q *QueryTask) initNode(ctx context.Context) error {
	n := q.node
	id := q.D.ID
	if n.killed(id.QueryID) {
		return fmt.Errorf("query %s: refused, query %d was killed", id, id.QueryID)
	}

	if q.D.Period > 0 {
		if late := n.clock.Now().Sub(q.D.Due()); late > 0 {
			skip := int32((late + q.D.Period - 1) / q.D.Period)
			if q.D.RunsTotal != scheduler.Forever && skip >= q.D.RunsRemaining() {
				return fmt.Errorf("query %s: refused, every epoch has passed", id)
			}
			q.D.Skip(skip)
		}
	}

	q.env = operator.NewEnv(id, n.net.Role(),
		operator.WithSensor(n.sampler),
		operator.WithChildren(n.net.Height(), n.net.Children()...),
		operator.WithClock(n.clock),
		operator.WithTransmitter(queryLink{q}),
		operator.WithOptions(n.opts),
		operator.WithLogger(n.logger),
	)
	if err := n.registry.Register(q); err != nil {
		return err
	}

	data, err := Encode(q)
	if err != nil {
		n.registry.Unregister(id)
		return err
	}
	for _, child := range n.net.Children() {
		if err := n.net.SendToChild(ctx, child, data); err != nil {
			n.logger.Warn("query delivery failed", "query", id, "child", child, "error", err)
		}
	}
	return nil
}

func (q *QueryTask) initOrigin(ctx context.Context) error {
	n := q.node
	n.logger.Info("query started",
		"query", q.D.ID,
		"plan", q.text,
		"schema", q.Schema.String(),
		"period", q.D.Period,
		"runs", q.D.RunsTotal,
	)
	if n.store == nil {
		return nil
	}
	return n.store.RecordQuery(ctx, store.QueryRecord{
		ID:     q.D.ID,
		Plan:   q.text,
		Schema: q.Schema.String(),
		Start:  q.Start,
		Period: q.D.Period,
		Runs:   q.D.RunsTotal,
	})
}

// Run evaluates the plan for the epoch of due. Sensing-role evaluations
// are serialized node-wide. At the base role the result is delivered to the
// node's result sink. An evaluation failure is raised toward the root and
// the epoch produces no result.
func (q *QueryTask) Run(ctx context.Context, due time.Time) error {
	n := q.node
	epoch := q.Epoch(due)
	if q.env.Role == ir.RoleSensing {
		n.evalMu.Lock()
		defer n.evalMu.Unlock()
	}

	table, err := q.Plan.Evaluate(ctx, q.env, epoch)
	if err != nil {
		n.raise(ctx, q.D.ID, epoch, err)
		return fmt.Errorf("query %s epoch %d: %w", q.D.ID, epoch, err)
	}
	if q.env.Role == ir.RoleBase {
		n.deliver(Result{Query: q.D.ID, Epoch: epoch, Table: table})
	}
	return nil
}

func (q *QueryTask) TornDown() {
	q.node.registry.Unregister(q.D.ID)
	q.node.logger.Debug("query torn down", "query", q.D.ID, "status", q.D.Status())
}

// queryLink is the operator.Transmitter of one query on one node.
type queryLink struct {
	q *QueryTask
}

// Transmit sends the epoch's table to the parent as a TransmitResult. The
// root has no parent and keeps the table.
func (l queryLink) Transmit(ctx context.Context, epoch int64, table *ir.Table) error {
	n := l.q.node
	if _, ok := n.net.Parent(); !ok {
		return nil
	}
	seq, err := n.seq.Next(ctx)
	if err != nil {
		return ir.TransportError("transmit result", err)
	}
	t := newTransmitResult(n,
		ir.TaskID{QueryID: l.q.D.ID.QueryID, Origin: n.addr, Seq: seq},
		l.q.D.ID, epoch, n.addr, table, l.q.Schema)
	data, err := Encode(t)
	if err != nil {
		return err
	}
	return n.net.SendToParent(ctx, data)
}

// Rerequest sends the query to a child again.
func (l queryLink) Rerequest(ctx context.Context, child ir.Addr) error {
	data, err := Encode(l.q)
	if err != nil {
		return err
	}
	l.q.node.metrics.rerequests.Inc()
	return l.q.node.net.SendToChild(ctx, child, data)
}
