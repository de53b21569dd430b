package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertResultCount:
		return assertResultCount(result, a)
	case AssertRowCount:
		return assertRowCount(result, a)
	case AssertRows:
		return assertRows(result, a)
	case AssertException:
		return assertException(result, a)
	case AssertNoExceptions:
		return assertNoExceptions(result)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertResultCount(result *Result, a Assertion) error {
	if len(result.Results) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertResultCount,
		Expected: fmt.Sprintf("%d epoch results", a.Count),
		Actual:   fmt.Sprintf("%d epoch results", len(result.Results)),
	}
}

func assertRowCount(result *Result, a Assertion) error {
	e, ok := result.Epoch(a.Epoch)
	if !ok {
		return missingEpoch(AssertRowCount, a.Epoch)
	}
	if len(e.Rows) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertRowCount,
		Expected: fmt.Sprintf("%d rows in epoch %d", a.Count, a.Epoch),
		Actual:   fmt.Sprintf("%d rows: %v", len(e.Rows), e.Rows),
	}
}

// assertRows compares the epoch's rows as a multiset.
func assertRows(result *Result, a Assertion) error {
	e, ok := result.Epoch(a.Epoch)
	if !ok {
		return missingEpoch(AssertRows, a.Epoch)
	}
	want := make([][]string, len(a.Rows))
	for i, row := range a.Rows {
		want[i] = slices.Clone(row)
	}
	SortRows(want)
	if slices.EqualFunc(want, e.Rows, func(a, b []string) bool { return slices.Equal(a, b) }) {
		return nil
	}
	return &AssertionError{
		Type:     AssertRows,
		Expected: fmt.Sprintf("epoch %d rows %v", a.Epoch, want),
		Actual:   fmt.Sprintf("%v", e.Rows),
	}
}

func assertException(result *Result, a Assertion) error {
	for _, e := range result.Exceptions {
		if a.Reporter != 0 && e.Reporter != a.Reporter {
			continue
		}
		if a.Code != "" && e.Code != a.Code {
			continue
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertException,
		Expected: fmt.Sprintf("exception from node %d with code %q", a.Reporter, a.Code),
		Actual:   fmt.Sprintf("%d exceptions: %v", len(result.Exceptions), result.Exceptions),
	}
}

func assertNoExceptions(result *Result) error {
	if len(result.Exceptions) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertNoExceptions,
		Expected: "no exceptions",
		Actual:   fmt.Sprintf("%v", result.Exceptions),
	}
}

func missingEpoch(kind string, epoch int64) error {
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("a result for epoch %d", epoch),
		Actual:   "no result",
	}
}
