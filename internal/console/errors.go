package console

import (
	"fmt"
	"time"
)

// ExpectationTimeout is returned when a pattern did not show up in the
// device output in time, or the stream ended first.
type ExpectationTimeout struct {
	Pattern string
	// Index is the position of Pattern in an ordered expectation; 0 for a
	// single Expect.
	Index   int
	Elapsed time.Duration
	// Tail is the most recent unconsumed output.
	Tail string
	Err  error
}

func (e *ExpectationTimeout) Error() string {
	return fmt.Sprintf("pattern #%d %q not seen after %s: %v\n--- recent output ---\n%s",
		e.Index, e.Pattern, e.Elapsed.Round(time.Millisecond), e.Err, e.Tail)
}

func (e *ExpectationTimeout) Unwrap() error { return e.Err }

// OutOfOrderError is returned by ExpectInOrder when a later pattern appears
// before the one being waited for.
type OutOfOrderError struct {
	Pattern    string
	Index      int
	Found      string
	FoundIndex int
	Tail       string
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("pattern #%d %q unmatched: pattern #%d %q appeared first\n--- recent output ---\n%s",
		e.Index, e.Pattern, e.FoundIndex, e.Found, e.Tail)
}

// StateTimeout is returned when a systemd unit did not reach a state in time.
type StateTimeout struct {
	Unit    string
	Want    string
	Last    string
	Elapsed time.Duration
	Err     error
}

func (e *StateTimeout) Error() string {
	msg := fmt.Sprintf("unit %s not %s after %s (last state %q)", e.Unit, e.Want, e.Elapsed.Round(time.Millisecond), e.Last)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StateTimeout) Unwrap() error { return e.Err }

// UnexpectedOutputError is returned by AssertAbsent when the pattern was seen
// inside the observation window.
type UnexpectedOutputError struct {
	Pattern string
	Window  time.Duration
	Output  string
}

func (e *UnexpectedOutputError) Error() string {
	return fmt.Sprintf("unexpected output %q within %s window:\n%s", e.Pattern, e.Window, e.Output)
}
