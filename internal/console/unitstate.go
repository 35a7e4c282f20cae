package console

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ticos/ticos-e2e/pkg/poll"
)

const (
	StateActive       = "active"
	StateInactive     = "inactive"
	StateActivating   = "activating"
	StateDeactivating = "deactivating"
	StateFailed       = "failed"

	// PropActiveEnter changes every time a unit (re)enters the active state.
	PropActiveEnter = "ActiveEnterTimestampMonotonic"
	PropNRestarts   = "NRestarts"
)

// UnitStateQuery asks the device's service manager about a unit.
type UnitStateQuery interface {
	ActiveState(ctx context.Context, unit string) (string, error)
	Property(ctx context.Context, unit, property string) (string, error)
}

// ConsoleUnitQuery runs systemctl on the console. Each answer is wrapped in
// a marker unique to the query so it cannot be confused with the echoed
// command or with an earlier answer. Queries do not move the read position.
type ConsoleUnitQuery struct {
	Console *Console
	Timeout time.Duration
}

func NewConsoleUnitQuery(c *Console, timeout time.Duration) *ConsoleUnitQuery {
	return &ConsoleUnitQuery{Console: c, Timeout: timeout}
}

func (q *ConsoleUnitQuery) ActiveState(ctx context.Context, unit string) (string, error) {
	return q.run(ctx, "systemctl is-active "+unit)
}

func (q *ConsoleUnitQuery) Property(ctx context.Context, unit, property string) (string, error) {
	return q.run(ctx, fmt.Sprintf("systemctl show -p %s --value %s", property, unit))
}

func (q *ConsoleUnitQuery) run(ctx context.Context, command string) (string, error) {
	id := q.Console.queries.Add(1)
	// the quotes split the marker in the echoed command line
	if err := q.Console.SendLine(fmt.Sprintf(`echo "@@Q%d""@@$(%s)@@"`, id, command)); err != nil {
		return "", err
	}
	re := regexp.MustCompile(fmt.Sprintf(`@@Q%d@@([^@\r\n]*)@@`, id))
	start := time.Now()
	var answer string
	err := q.Console.poll(ctx, q.Timeout, func(out []byte) bool {
		m := re.FindSubmatch(out)
		if m == nil {
			return false
		}
		answer = string(m[1])
		return true
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", command, q.Console.expectationTimeout(re.String(), 0, start, err))
	}
	return strings.TrimSpace(answer), nil
}

// WaitForUnitState polls q until unit reports want. Query errors count as
// not yet.
func WaitForUnitState(ctx context.Context, q UnitStateQuery, unit, want string, timeout, interval time.Duration) error {
	start := time.Now()
	last := ""
	_, err := poll.Until(ctx, poll.Spec{Timeout: timeout, Interval: interval}, func(ctx context.Context) poll.Result[string] {
		state, err := q.ActiveState(ctx, unit)
		if err != nil {
			return poll.NotYet[string](err)
		}
		last = state
		if state != want {
			return poll.NotYetf[string]("unit %s is %s", unit, state)
		}
		return poll.Converged(state)
	})
	if err != nil {
		return &StateTimeout{Unit: unit, Want: want, Last: last, Elapsed: time.Since(start), Err: err}
	}
	return nil
}

// RestartMark returns the value WaitForRestart compares against. Take it
// before triggering the restart.
func RestartMark(ctx context.Context, q UnitStateQuery, unit string) (string, error) {
	return q.Property(ctx, unit, PropActiveEnter)
}

// WaitForRestart waits until unit has entered the active state again after
// mark was taken, as seen by systemd's activation timestamp.
func WaitForRestart(ctx context.Context, q UnitStateQuery, unit, mark string, timeout, interval time.Duration) error {
	start := time.Now()
	last := ""
	_, err := poll.Until(ctx, poll.Spec{Timeout: timeout, Interval: interval}, func(ctx context.Context) poll.Result[string] {
		entered, err := q.Property(ctx, unit, PropActiveEnter)
		if err != nil {
			return poll.NotYet[string](err)
		}
		if entered == mark || entered == "" || entered == "0" {
			return poll.NotYetf[string]("unit %s has not re-entered active (%s=%s)", unit, PropActiveEnter, entered)
		}
		state, err := q.ActiveState(ctx, unit)
		if err != nil {
			return poll.NotYet[string](err)
		}
		last = state
		if state != StateActive {
			return poll.NotYetf[string]("unit %s is %s", unit, state)
		}
		return poll.Converged(entered)
	})
	if err != nil {
		return &StateTimeout{Unit: unit, Want: "restarted", Last: last, Elapsed: time.Since(start), Err: err}
	}
	return nil
}

// IsStateTimeout reports whether err is, or wraps, a StateTimeout.
func IsStateTimeout(err error) bool {
	var st *StateTimeout
	return errors.As(err, &st)
}
