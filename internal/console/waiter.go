package console

import (
	"bytes"
	"context"
	"time"
)

// ExpectInOrder waits for each pattern in turn, each with its own timeout.
// Ordering is strict: if a later pattern shows up before the one currently
// awaited, the wait fails at once and reports the awaited pattern.
// It returns the matched text of every pattern.
func (c *Console) ExpectInOrder(ctx context.Context, patterns []string, perPattern time.Duration) ([]string, error) {
	res, err := compile(patterns...)
	if err != nil {
		return nil, err
	}

	matched := make([]string, 0, len(patterns))
	for i := range patterns {
		m, err := c.expect(ctx, res[i:], patterns[i:], i, perPattern)
		if err != nil {
			return matched, err
		}
		matched = append(matched, m[0])
	}
	return matched, nil
}

// AssertAbsent drains output until the device has been quiet for idle and
// fails if s is part of it. This only covers the observed window: output
// produced after the stream went quiet for idle is not inspected.
func (c *Console) AssertAbsent(ctx context.Context, s string, idle time.Duration) error {
	out, err := c.Drain(ctx, idle)
	if bytes.Contains(out, []byte(s)) {
		return &UnexpectedOutputError{Pattern: s, Window: idle, Output: tail(out)}
	}
	return err
}
