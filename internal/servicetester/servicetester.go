// Package servicetester waits for the Ticos backend to reflect what a device
// under test did.
package servicetester

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/ticos/ticos-e2e/internal/api/client"
	"github.com/ticos/ticos-e2e/internal/config"
	ticoslog "github.com/ticos/ticos-e2e/pkg/log"
	"github.com/ticos/ticos-e2e/pkg/poll"
)

const (
	DefaultTimeout  = 10 * time.Second
	DefaultInterval = 500 * time.Millisecond
)

type Tester struct {
	client   *client.Client
	log      logrus.FieldLogger
	interval time.Duration
	// strict makes an unexpected HTTP status fail a poll at once instead of
	// counting as not yet.
	strict bool
}

type Option func(*Tester)

func WithInterval(d time.Duration) Option {
	return func(t *Tester) { t.interval = d }
}

func WithStrictStatus() Option {
	return func(t *Tester) { t.strict = true }
}

func New(c *client.Client, log logrus.FieldLogger, opts ...Option) *Tester {
	t := &Tester{
		client:   c,
		log:      ticoslog.WithComponent(log, "servicetester"),
		interval: DefaultInterval,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func NewFromConfig(c *client.Client, cfg *config.Config, log logrus.FieldLogger) *Tester {
	return New(c, log, WithInterval(cfg.Timeouts.PollInterval.Duration))
}

func (t *Tester) Client() *client.Client { return t.client }

// PollUntilNotRaising calls check until it returns no error or timeout
// elapses. At the deadline the last error from check is returned, wrapped in
// a *poll.TimeoutError.
func PollUntilNotRaising[T any](ctx context.Context, check func(context.Context) (T, error), timeout, interval time.Duration) (T, error) {
	return poll.UntilNoError(ctx, poll.Spec{Timeout: timeout, Interval: interval}, check)
}

// PollRebootEventsUntilCount waits until the device has at least count
// reboot events and returns them, newest first.
func (t *Tester) PollRebootEventsUntilCount(ctx context.Context, count int, deviceSerial string, timeout time.Duration) ([]client.RebootEvent, error) {
	return until(ctx, t, timeout, func(ctx context.Context) poll.Result[[]client.RebootEvent] {
		events, err := t.client.ListRebootEvents(ctx, deviceSerial, nil)
		if err != nil {
			return notYetOrFailed[[]client.RebootEvent](t.strict, err)
		}
		if len(events) < count {
			return poll.NotYetf[[]client.RebootEvent]("expected >= %d reboot events for device %s, got %d", count, deviceSerial, len(events))
		}
		return poll.Converged(events)
	})
}

// PollReportsUntilCount waits until at least count reports exist, for
// deviceSerial or for the whole project when it is empty.
func (t *Tester) PollReportsUntilCount(ctx context.Context, count int, deviceSerial string, timeout time.Duration) ([]client.Report, error) {
	params := &client.ListReportsParams{}
	if deviceSerial != "" {
		params.DeviceSerial = &deviceSerial
	}
	return until(ctx, t, timeout, func(ctx context.Context) poll.Result[[]client.Report] {
		reports, err := t.client.ListReports(ctx, params)
		if err != nil {
			return notYetOrFailed[[]client.Report](t.strict, err)
		}
		if len(reports) < count {
			return poll.NotYetf[[]client.Report]("expected >= %d reports for device %s, got %d", count, deviceSerial, len(reports))
		}
		return poll.Converged(reports)
	})
}

// PollReportsWithMetrics waits until the device has uploaded a report with
// a non-empty metrics set and returns those reports. Early heartbeats can
// carry no metrics at all.
func (t *Tester) PollReportsWithMetrics(ctx context.Context, deviceSerial string, timeout time.Duration) ([]client.Report, error) {
	params := &client.ListReportsParams{DeviceSerial: &deviceSerial}
	return until(ctx, t, timeout, func(ctx context.Context) poll.Result[[]client.Report] {
		reports, err := t.client.ListReports(ctx, params)
		if err != nil {
			return notYetOrFailed[[]client.Report](t.strict, err)
		}
		withMetrics := lo.Filter(reports, func(r client.Report, _ int) bool { return len(r.Metrics) > 0 })
		if len(withMetrics) == 0 {
			return poll.NotYetf[[]client.Report]("expected a report with metrics for device %s, got %d reports without", deviceSerial, len(reports))
		}
		return poll.Converged(withMetrics)
	})
}

// PollElfCoredumpsUntilCount waits until the device has at least count
// processed core dumps.
func (t *Tester) PollElfCoredumpsUntilCount(ctx context.Context, count int, deviceSerial string, timeout time.Duration) ([]client.ElfCoredump, error) {
	params := &client.ListElfCoredumpsParams{}
	if deviceSerial != "" {
		params.Device = &deviceSerial
	}
	return until(ctx, t, timeout, func(ctx context.Context) poll.Result[[]client.ElfCoredump] {
		dumps, err := t.client.ListElfCoredumps(ctx, params)
		if err != nil {
			return notYetOrFailed[[]client.ElfCoredump](t.strict, err)
		}
		if len(dumps) < count {
			return poll.NotYetf[[]client.ElfCoredump]("expected >= %d coredumps for device %s, got %d", count, deviceSerial, len(dumps))
		}
		return poll.Converged(dumps)
	})
}

// PollAttributesUntil waits until every key in want has exactly the wanted
// value, including its JSON type. Other attributes are ignored. It returns
// all decoded attributes.
func (t *Tester) PollAttributesUntil(ctx context.Context, deviceSerial string, want map[string]any, timeout time.Duration) (map[string]any, error) {
	return until(ctx, t, timeout, func(ctx context.Context) poll.Result[map[string]any] {
		attrs, err := t.client.ListAttributes(ctx, deviceSerial, nil)
		if err != nil {
			return notYetOrFailed[map[string]any](t.strict, err)
		}
		got := client.DecodeAttributes(attrs)
		relevant := lo.PickByKeys(got, lo.Keys(want))
		if diff := cmp.Diff(want, relevant); diff != "" {
			return poll.NotYetf[map[string]any]("attributes of device %s differ (-want +got):\n%s", deviceSerial, diff)
		}
		return poll.Converged(got)
	})
}

func until[T any](ctx context.Context, t *Tester, timeout time.Duration, check func(context.Context) poll.Result[T]) (T, error) {
	attempt := 0
	return poll.Until(ctx, poll.Spec{Timeout: timeout, Interval: t.interval}, func(ctx context.Context) poll.Result[T] {
		attempt++
		r := check(ctx)
		if !r.IsConverged() {
			t.log.Debugf("attempt %d: %v", attempt, r.Reason())
		}
		return r
	})
}

func notYetOrFailed[T any](strict bool, err error) poll.Result[T] {
	var se *client.StatusError
	if strict && errors.As(err, &se) {
		return poll.Failed[T](err)
	}
	return poll.NotYet[T](fmt.Errorf("listing: %w", err))
}
