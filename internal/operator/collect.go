package operator

import (
	"context"
	"time"

	"github.com/roach88/sensornet/internal/ir"
)

// Evaluate waits until every expected child has reported for epoch or the
// deadline of Height × LevelDelay has passed, polling every PollInterval.
//
// When the deadline passes with children still silent, the query is
// re-requested from each of them once, unless the env is isolated. Whatever
// has arrived by then is merged pairwise into the result; with no arrivals
// the result is an empty table.
//
// Every collected row is flagged partial: children forward the output of the
// same plan, so below an Aggregate their rows are running aggregates.
func (c *Collect) Evaluate(ctx context.Context, env *Env, epoch int64) (*ir.Table, error) {
	if err := c.wait(ctx, env, epoch); err != nil {
		return nil, err
	}

	var result Operator = Fixed(ir.NewTable(env.Query))
	for _, t := range env.Results.Tables(epoch) {
		result = &Merge{Left: result, Right: Fixed(t)}
	}
	out, err := result.Evaluate(ctx, env, epoch)
	if err != nil {
		return nil, err
	}
	out.MarkPartial()
	return out, nil
}

func (c *Collect) wait(ctx context.Context, env *Env, epoch int64) error {
	if len(env.Children) == 0 {
		return nil
	}
	deadline := env.Clock.Now().Add(time.Duration(env.Height) * env.Options.LevelDelay)

	poll := env.Options.PollInterval
	if poll <= 0 {
		poll = DefaultOptions().PollInterval
	}
	ticker := env.Clock.NewTicker(poll, "collect")
	defer ticker.Stop()

	for {
		missing := env.Results.Missing(epoch, env.Children)
		if len(missing) == 0 {
			return nil
		}
		if !env.Clock.Now().Before(deadline) {
			c.rerequest(ctx, env, epoch, missing)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Collect) rerequest(ctx context.Context, env *Env, epoch int64, missing []ir.Addr) {
	env.Logger.Debug("collect deadline passed",
		"query", env.Query,
		"epoch", epoch,
		"missing", len(missing),
	)
	if env.isolated() {
		return
	}
	for _, child := range missing {
		if err := env.Transmitter.Rerequest(ctx, child); err != nil {
			env.Logger.Warn("re-request failed",
				"query", env.Query,
				"child", child,
				"error", err,
			)
		}
	}
}
