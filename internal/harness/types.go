package harness

import (
	"cmp"
	"slices"
	"strings"

	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/node"
	"github.com/roach88/sensornet/internal/store"
)

// Missing is the token of a missing value in rendered rows.
const Missing = "-"

// EpochResult is one epoch's table at the root, rendered as value tokens
// with rows in canonical order.
type EpochResult struct {
	Epoch int64      `json:"epoch"`
	Rows  [][]string `json:"rows"`
}

// ExceptionEvent is an exception surfaced at the root.
type ExceptionEvent struct {
	Epoch    int64  `json:"epoch"`
	Reporter uint64 `json:"reporter"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	Results    []EpochResult    `json:"results"`
	Exceptions []ExceptionEvent `json:"exceptions"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Results:    []EpochResult{},
		Exceptions: []ExceptionEvent{},
		Errors:     []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEpoch renders an epoch result.
func (r *Result) AddEpoch(res node.Result) {
	r.Results = append(r.Results, EpochResult{Epoch: res.Epoch, Rows: RenderRows(res.Table.Rows)})
}

// AddException records an exception. Rendered exceptions are kept sorted
// by epoch and reporter since they arrive in no fixed order.
func (r *Result) AddException(e store.Exception) {
	r.Exceptions = append(r.Exceptions, ExceptionEvent{
		Epoch:    e.Epoch,
		Reporter: uint64(e.Reporter),
		Code:     string(e.Code),
		Message:  e.Message,
	})
	slices.SortStableFunc(r.Exceptions, func(a, b ExceptionEvent) int {
		if c := cmp.Compare(a.Epoch, b.Epoch); c != 0 {
			return c
		}
		return cmp.Compare(a.Reporter, b.Reporter)
	})
}

// Epoch returns the result of epoch, if it arrived.
func (r *Result) Epoch(epoch int64) (EpochResult, bool) {
	for _, e := range r.Results {
		if e.Epoch == epoch {
			return e, true
		}
	}
	return EpochResult{}, false
}

// RenderRows renders rows as value tokens and sorts them, so tables whose
// rows arrived in different orders render the same.
func RenderRows(rows []ir.Row) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, RenderRow(row))
	}
	SortRows(out)
	return out
}

// RenderRow renders one row as value tokens.
func RenderRow(row ir.Row) []string {
	cells := make([]string, len(row))
	for i, v := range row {
		if v == nil {
			cells[i] = Missing
			continue
		}
		cells[i] = v.String()
	}
	return cells
}

// SortRows orders rendered rows lexicographically by cell.
func SortRows(rows [][]string) {
	slices.SortFunc(rows, func(a, b []string) int {
		return strings.Compare(strings.Join(a, "\x00"), strings.Join(b, "\x00"))
	})
}
