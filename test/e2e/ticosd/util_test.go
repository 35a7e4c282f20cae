package ticosd_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"github.com/ticos/ticos-e2e/internal/console"
	"github.com/ticos/ticos-e2e/test/harness/e2e"
	"github.com/ticos/ticos-e2e/test/util"
)

const (
	remoteTimeout = 60 * time.Second
	// duplicateWindow is how long the backend is watched for events that
	// must not show up.
	duplicateWindow = 15 * time.Second
)

// toggleAndWaitForRestart runs a command that changes a ticosd setting,
// checks its confirmation and waits until systemd has restarted ticosd.
func toggleAndWaitForRestart(h *e2e.Harness, cmd string, confirmation util.Message) {
	logrus.Infof("%s, waiting for ticosd to restart", cmd)
	h.WaitForServiceRestart(util.TICOSD_SERVICE, func() {
		h.ExecCmd(cmd)
		h.MustExpect(confirmation.String())
	})
	h.WaitForServiceState(util.TICOSD_SERVICE, console.StateActive)
}

// expectUnchanged repeats a toggle that already took effect: ticosd must say
// so and must not apply the change again.
func expectUnchanged(h *e2e.Harness, cmd string, already, change util.Message) {
	GinkgoHelper()
	h.ExecCmd(cmd)
	h.MustExpectInOrder(already.String())
	h.MustNotSee(change.String())
}

// checkRestartedCleanly looks at the unit's journal: the toggles above must
// have stopped and started ticosd without systemd restarting it after a
// failure.
func checkRestartedCleanly(h *e2e.Harness, extra ...util.Message) {
	h.ShowJournal(util.TICOSD_SERVICE)
	h.MustExpect(util.StoppedTicosd.String())
	h.MustExpect(util.StartingTicosd.String())
	for _, m := range extra {
		h.MustExpect(m.String())
	}

	h.ShowJournal(util.TICOSD_SERVICE)
	h.MustNotSee(util.ScheduledRestartJob.String())
}

// enableDataCollection turns data collection on and streams new ticosd log
// lines to the console.
func enableDataCollection(h *e2e.Harness, cmd string) {
	toggleAndWaitForRestart(h, cmd, util.EnablingDataCollection)
	h.FollowJournal(util.TICOSD_SERVICE, 0)
}

// expectRebootEventCount checks the backend keeps exactly count reboot events
// for the device, so a reboot reported twice is caught.
func expectRebootEventCount(h *e2e.Harness, count int) {
	GinkgoHelper()
	Consistently(func(g Gomega) {
		events, err := h.Client.ListRebootEvents(h.Context, h.Identity.DeviceID, nil)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(events).To(HaveLen(count))
	}, duplicateWindow, h.Config.Timeouts.PollInterval.Duration).Should(Succeed())
}
