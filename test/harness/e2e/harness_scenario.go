package e2e

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// Step is one local action, the console lines it must produce in order and
// the remote observation that must follow.
type Step struct {
	Name   string
	Action string
	Local  []string
	Remote func(ctx context.Context) error
}

// RunScenario executes steps in sequence. The first failing step fails the
// test and the rest are not run.
func (h *Harness) RunScenario(steps ...Step) {
	GinkgoHelper()
	for _, s := range steps {
		By(s.Name)
		if s.Action != "" {
			h.ExecCmd(s.Action)
		}
		if len(s.Local) > 0 {
			h.MustExpectInOrder(s.Local...)
		}
		if s.Remote != nil {
			Expect(s.Remote(h.Context)).To(Succeed(), "step %q", s.Name)
		}
	}
}
