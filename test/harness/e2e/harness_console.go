package e2e

import (
	"fmt"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/ticos/ticos-e2e/internal/console"
	"github.com/ticos/ticos-e2e/test/harness/e2e/vm"
	"github.com/ticos/ticos-e2e/test/util"
)

// ExecCmd writes a command to the serial console. It does not wait for the
// command to finish.
func (h *Harness) ExecCmd(cmd string) {
	GinkgoWriter.Printf("console> %s\n", cmd)
	Expect(h.Console.SendLine(cmd)).To(Succeed())
}

// MustExpect waits for pattern, a regular expression, in the console output
// following the previous match.
func (h *Harness) MustExpect(pattern string) string {
	return h.MustExpectWithin(pattern, h.timeouts().Expect.Duration)
}

func (h *Harness) MustExpectWithin(pattern string, timeout time.Duration) string {
	GinkgoHelper()
	GinkgoWriter.Printf("console EXPECT %q\n", pattern)
	m, err := h.Console.Expect(h.Context, pattern, timeout)
	Expect(err).ToNot(HaveOccurred())
	return m
}

// MustExpectInOrder waits for each pattern in turn and fails as soon as a
// later one shows up first.
func (h *Harness) MustExpectInOrder(patterns ...string) []string {
	GinkgoHelper()
	GinkgoWriter.Printf("console EXPECT in order %q\n", patterns)
	m, err := h.Console.ExpectInOrder(h.Context, patterns, h.timeouts().Expect.Duration)
	Expect(err).ToNot(HaveOccurred())
	return m
}

// MustNotSee fails if s shows up after the read position during the idle
// window. The read position does not move.
func (h *Harness) MustNotSee(s string) {
	GinkgoHelper()
	GinkgoWriter.Printf("console EXPECT NOT %q\n", s)
	Consistently(h.Console, h.timeouts().IdleWindow.Duration).ShouldNot(gbytes.Say(regexp.QuoteMeta(s)))
}

// Login waits for the login prompt and then for a shell prompt.
func (h *Harness) Login() {
	GinkgoHelper()
	dev := h.Config.Device
	h.MustExpectWithin(regexp.QuoteMeta(dev.LoginPrompt), h.timeouts().Boot.Duration)
	h.ExecCmd(dev.LoginUser)
	h.MustExpect(dev.ShellPrompt)
}

// FollowJournal streams the journal of unit to the console in the
// background, starting with the last backlog lines.
func (h *Harness) FollowJournal(unit string, backlog int) {
	h.ExecCmd(fmt.Sprintf("journalctl -u %s -n %d -f &", unit, backlog))
}

// ShowJournal prints the unit's journal so far, for assertions on history.
func (h *Harness) ShowJournal(unit string) {
	h.ExecCmd(fmt.Sprintf("journalctl --no-pager -u %s", unit))
}

// Reboot reboots the device and logs back in when it comes up.
func (h *Harness) Reboot() {
	GinkgoHelper()
	h.ExecCmd("reboot")
	h.MustExpectWithin(util.RebootingSystem.String(), h.timeouts().Boot.Duration)
	h.Login()
	h.waitForSSH()
}

// waitForSSH blocks until sshd accepts logins when unit state is queried over
// SSH. Connections cached from before a reboot are dropped.
func (h *Harness) waitForSSH() {
	GinkgoHelper()
	q, ok := h.Units.(*vm.SSHUnitQuery)
	if !ok {
		return
	}
	Expect(q.Close()).To(Succeed())
	Expect(h.VM.WaitForSSHToBeReady()).To(Succeed())
}

// WaitForServiceState polls systemd until unit reaches state.
func (h *Harness) WaitForServiceState(unit, state string) {
	GinkgoHelper()
	t := h.timeouts()
	err := console.WaitForUnitState(h.Context, h.Units, unit, state, t.UnitState.Duration, t.PollInterval.Duration)
	Expect(err).ToNot(HaveOccurred())
}

// WaitForServiceRestart runs action and waits until systemd reports that unit
// was started again after it.
func (h *Harness) WaitForServiceRestart(unit string, action func()) {
	GinkgoHelper()
	mark, err := console.RestartMark(h.Context, h.Units, unit)
	Expect(err).ToNot(HaveOccurred())
	action()
	t := h.timeouts()
	err = console.WaitForRestart(h.Context, h.Units, unit, mark, t.UnitState.Duration, t.PollInterval.Duration)
	Expect(err).ToNot(HaveOccurred())
}

// DisableSwupdate keeps the update agent from rebooting the device mid test.
func (h *Harness) DisableSwupdate() {
	GinkgoHelper()
	h.ExecCmd(fmt.Sprintf("systemctl stop %s && systemctl disable %s", util.SWUPDATE_SERVICE, util.SWUPDATE_SERVICE))
	h.WaitForServiceState(util.SWUPDATE_SERVICE, console.StateInactive)
}
