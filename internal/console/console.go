package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onsi/gomega/gbytes"
	"github.com/sirupsen/logrus"
	ticoslog "github.com/ticos/ticos-e2e/pkg/log"
)

const (
	// tailSize bounds how much recent output is attached to errors.
	tailSize = 2048

	pollInterval = 10 * time.Millisecond
	closeWait    = 5 * time.Second
)

var ErrClosed = errors.New("console closed")

// Console is the interactive text stream of one running device. Everything
// the device prints is collected in a gbytes.Buffer. The console keeps its
// own read position: every Expect only sees output written after the
// previous match, and a match moves the position past it.
type Console struct {
	rw  io.ReadWriteCloser
	buf *gbytes.Buffer
	log logrus.FieldLogger

	mu     sync.Mutex
	cursor int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	queries   atomic.Uint64
}

type Option func(*options)

type options struct {
	log    logrus.FieldLogger
	mirror io.Writer
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithMirror copies everything read from the device to w.
func WithMirror(w io.Writer) Option {
	return func(o *options) { o.mirror = w }
}

// New starts reading from rw immediately. The caller gives up ownership of rw;
// it is closed by Close.
func New(rw io.ReadWriteCloser, opts ...Option) *Console {
	o := options{log: ticoslog.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	var r io.Reader = rw
	if o.mirror != nil {
		r = io.TeeReader(rw, o.mirror)
	}
	return &Console{
		rw:  rw,
		buf: gbytes.BufferReader(r),
		log: ticoslog.WithComponent(o.log, "console"),
	}
}

// Buffer returns the output after the read position as a fresh buffer, so
// gomega matchers can be used on the console without moving its position:
//
//	Consistently(console, time.Second).ShouldNot(gbytes.Say("panic"))
func (c *Console) Buffer() *gbytes.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gbytes.BufferWithBytes(c.buf.Contents()[c.cursor:])
}

// SendLine writes cmd followed by a newline. It does not wait for any output.
func (c *Console) SendLine(cmd string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.log.Debugf("> %s", cmd)
	if _, err := io.WriteString(c.rw, cmd+"\n"); err != nil {
		return fmt.Errorf("sending %q: %w", cmd, err)
	}
	return nil
}

// Expect waits until pattern, a regular expression, matches output written
// after the previous match, and returns the matched text. The read position
// moves past the match. A timeout <= 0 scans the output once.
func (c *Console) Expect(ctx context.Context, pattern string, timeout time.Duration) (string, error) {
	m, err := c.ExpectSubmatch(ctx, pattern, timeout)
	if err != nil {
		return "", err
	}
	return m[0], nil
}

// ExpectSubmatch is Expect returning the capture groups, whole match first.
func (c *Console) ExpectSubmatch(ctx context.Context, pattern string, timeout time.Duration) ([]string, error) {
	res, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	return c.expect(ctx, res, []string{pattern}, 0, timeout)
}

// ExpectString is Expect for a literal substring.
func (c *Console) ExpectString(ctx context.Context, s string, timeout time.Duration) (string, error) {
	return c.Expect(ctx, regexp.QuoteMeta(s), timeout)
}

// expect waits for patterns[0]. Any of patterns[1:] appearing before it fails
// the wait: those patterns are expected to come later, so seeing one first
// means the output is out of order. index is the position of patterns[0] in
// the caller's sequence and is only used for error reporting.
func (c *Console) expect(ctx context.Context, res []*regexp.Regexp, patterns []string, index int, timeout time.Duration) ([]string, error) {
	start := time.Now()
	var (
		groups []string
		ooo    *OutOfOrderError
	)
	err := c.poll(ctx, timeout, func(out []byte) bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		unread := out[c.cursor:]
		n, ok := said(unread, patterns[0])
		for j := 1; j < len(patterns); j++ {
			if m, later := said(unread, patterns[j]); later && (!ok || m < n) {
				ooo = &OutOfOrderError{
					Pattern:    patterns[0],
					Index:      index,
					Found:      patterns[j],
					FoundIndex: index + j,
					Tail:       tail(unread),
				}
				return true
			}
		}
		if !ok {
			return false
		}
		groups = submatches(res[0], unread[:n])
		c.cursor += n
		return true
	})
	switch {
	case ooo != nil:
		return nil, ooo
	case err != nil:
		return nil, c.expectationTimeout(patterns[0], index, start, err)
	}
	c.log.Debugf("matched %q", patterns[0])
	return groups, nil
}

// said evaluates gbytes.Say against out and reports how many bytes the
// match consumed.
func said(out []byte, pattern string) (int, bool) {
	b := gbytes.BufferWithBytes(out)
	ok, err := gbytes.Say(pattern).Match(b)
	if err != nil || !ok {
		return 0, false
	}
	rest, _ := io.ReadAll(b)
	return len(out) - len(rest), true
}

func submatches(re *regexp.Regexp, matched []byte) []string {
	loc := re.FindSubmatchIndex(matched)
	if loc == nil {
		return []string{string(matched)}
	}
	groups := make([]string, len(loc)/2)
	for i := range groups {
		if loc[2*i] >= 0 {
			groups[i] = string(matched[loc[2*i]:loc[2*i+1]])
		}
	}
	return groups
}

func compile(patterns ...string) ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern #%d %q: %w", i, p, err)
		}
		res[i] = re
	}
	return res, nil
}

// poll calls check with the full output until it returns true. It gives up
// when the stream has ended, ctx is done or timeout elapses. A timeout <= 0
// means a single check.
func (c *Console) poll(ctx context.Context, timeout time.Duration, check func(out []byte) bool) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		closed := c.buf.Closed()
		if check(c.buf.Contents()) {
			return nil
		}
		if closed {
			return ErrClosed
		}
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
		select {
		case <-ticker.C:
		case <-deadline:
			// the output may have arrived since the last tick
			if check(c.buf.Contents()) {
				return nil
			}
			return context.DeadlineExceeded
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Console) expectationTimeout(pattern string, index int, start time.Time, cause error) *ExpectationTimeout {
	return &ExpectationTimeout{
		Pattern: pattern,
		Index:   index,
		Elapsed: time.Since(start),
		Tail:    tail([]byte(c.Unread())),
		Err:     cause,
	}
}

// Drain consumes output until none arrives for idle, or ctx is done, and
// returns what was consumed. A stream that never goes quiet is bounded only
// by ctx.
func (c *Console) Drain(ctx context.Context, idle time.Duration) ([]byte, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	size, quietSince := len(c.buf.Contents()), time.Now()
	for {
		if c.buf.Closed() {
			return c.consume(), nil
		}
		select {
		case <-ticker.C:
			if n := len(c.buf.Contents()); n != size {
				size, quietSince = n, time.Now()
			} else if time.Since(quietSince) >= idle {
				return c.consume(), nil
			}
		case <-ctx.Done():
			return c.consume(), ctx.Err()
		}
	}
}

func (c *Console) consume() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.buf.Contents()
	unread := out[c.cursor:]
	c.cursor = len(out)
	return unread
}

// Skip moves the read position to the end of the output read so far, so
// later expectations only see output produced after this call.
func (c *Console) Skip() {
	c.consume()
}

// Output returns a copy of everything read from the device so far.
func (c *Console) Output() string {
	return string(c.buf.Contents())
}

// Unread returns the output after the read position without consuming it.
func (c *Console) Unread() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf.Contents()[c.cursor:])
}

// Close closes the underlying stream and waits for the buffer to see the end
// of it.
func (c *Console) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rw.Close()
		deadline := time.Now().Add(closeWait)
		for !c.buf.Closed() {
			if time.Now().After(deadline) {
				c.log.Warn("reader did not stop after close")
				break
			}
			time.Sleep(pollInterval)
		}
	})
	return c.closeErr
}

func tail(b []byte) string {
	if len(b) > tailSize {
		b = b[len(b)-tailSize:]
	}
	return string(b)
}
