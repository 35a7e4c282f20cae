package e2e

import (
	"context"
	"errors"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/ticos/ticos-e2e/internal/config"
	"github.com/ticos/ticos-e2e/internal/console"
)

// scriptedDevice is a serial line whose output is written by the test.
// Commands sent to it are dropped.
type scriptedDevice struct {
	io.Reader
	out *io.PipeWriter
}

func (d *scriptedDevice) Write(p []byte) (int, error) { return len(p), nil }

func (d *scriptedDevice) Close() error { return d.out.Close() }

var _ = Describe("RunScenario", func() {
	var (
		h      *Harness
		device *io.PipeWriter
		calls  []string
	)

	remote := func(name string, err error) func(context.Context) error {
		return func(context.Context) error {
			calls = append(calls, name)
			return err
		}
	}

	emit := func(lines string) {
		_, err := io.WriteString(device, lines)
		Expect(err).ToNot(HaveOccurred())
	}

	BeforeEach(func() {
		calls = nil
		r, w := io.Pipe()
		device = w

		cfg := config.NewDefault()
		cfg.Timeouts.Expect = config.NewDuration(200 * time.Millisecond)
		h = &Harness{
			Config:  cfg,
			Console: console.New(&scriptedDevice{Reader: r, out: w}),
			Context: context.Background(),
		}
		DeferCleanup(h.Console.Close)
	})

	It("runs every step in order", func() {
		emit("Enabling data collection.\nStarting ticosd\n")

		h.RunScenario(
			Step{Name: "enable", Action: "ticosctl enable-data-collection", Local: []string{"Enabling data collection", "Starting ticosd"}, Remote: remote("enable", nil)},
			Step{Name: "upload", Remote: remote("upload", nil)},
		)
		Expect(calls).To(Equal([]string{"enable", "upload"}))
	})

	It("stops at the first step whose console lines are missing", func() {
		emit("Enabling data collection.\n")

		err := InterceptGomegaFailure(func() {
			h.RunScenario(
				Step{Name: "already enabled", Local: []string{"Data collection is already enabled"}, Remote: remote("already enabled", nil)},
				Step{Name: "upload", Remote: remote("upload", nil)},
			)
		})
		Expect(err).To(MatchError(And(
			ContainSubstring("Data collection is already enabled"),
			ContainSubstring("not seen after"),
		)))
		Expect(calls).To(BeEmpty())
	})

	It("stops when console lines come out of order", func() {
		emit("Starting ticosd\nEnabling data collection.\n")

		err := InterceptGomegaFailure(func() {
			h.RunScenario(
				Step{Name: "enable", Local: []string{"Enabling data collection", "Starting ticosd"}, Remote: remote("enable", nil)},
			)
		})
		Expect(err).To(MatchError(ContainSubstring("appeared first")))
		Expect(calls).To(BeEmpty())
	})

	It("stops at the first failing remote observation", func() {
		emit("Enabling data collection.\n")

		err := InterceptGomegaFailure(func() {
			h.RunScenario(
				Step{Name: "enable", Local: []string{"Enabling data collection"}, Remote: remote("enable", errors.New("no reboot events"))},
				Step{Name: "upload", Remote: remote("upload", nil)},
			)
		})
		Expect(err).To(MatchError(ContainSubstring(`step "enable"`)))
		Expect(calls).To(Equal([]string{"enable"}))
	})
})
