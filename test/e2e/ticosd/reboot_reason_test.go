package ticosd_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	"github.com/ticos/ticos-e2e/internal/api/client"
	"github.com/ticos/ticos-e2e/test/harness/e2e"
	"github.com/ticos/ticos-e2e/test/util"
)

var _ = Describe("reboot reasons", func() {
	var harness *e2e.Harness

	BeforeEach(func() {
		harness = e2e.NewTestHarnessFromEnv()
		harness.DisableSwupdate()
	})

	// latestRebootReason waits for count reboot events and checks the newest one.
	latestRebootReason := func(count int, want client.RebootReason) e2e.Step {
		return e2e.Step{
			Name: fmt.Sprintf("waiting for reboot event #%d with reason %s", count, want),
			Remote: func(ctx context.Context) error {
				events, err := harness.Tester.PollRebootEventsUntilCount(ctx, count, harness.Identity.DeviceID, harness.PollTimeout(remoteTimeout))
				if err != nil {
					return err
				}
				if events[0].Reason != want {
					return fmt.Errorf("latest reboot reason is %s, want %s", events[0].Reason, want)
				}
				return nil
			},
		}
	}

	It("reports a user reset", func() {
		enableDataCollection(harness, util.CmdTicosdEnableDataCollection)
		harness.Reboot()
		harness.RunScenario(latestRebootReason(1, client.RebootReasonUserReset))
		expectRebootEventCount(harness, 1)
	})

	It("does not track the same boot twice", func() {
		enableDataCollection(harness, util.CmdTicosdEnableDataCollection)
		harness.RunScenario(e2e.Step{
			Name:   "restarting ticosd",
			Action: util.CmdRestartTicosd,
			Local:  []string{util.BootIDAlreadyTracked.String()},
		})
	})

	It("reports the reason passed to ticosctl reboot", func() {
		enableDataCollection(harness, util.CmdEnableDataCollection)
		harness.ExecCmd(util.CmdRebootLowPower)
		harness.MustExpectWithin(util.RebootingSystem.String(), harness.Config.Timeouts.Boot.Duration)
		harness.Login()
		harness.RunScenario(latestRebootReason(1, client.RebootReasonLowPower))
		expectRebootEventCount(harness, 1)
	})

	It("reports a reason written to the last reboot reason file", func() {
		enableDataCollection(harness, util.CmdTicosdEnableDataCollection)
		harness.ExecCmd(util.CmdButtonResetReason)
		harness.Reboot()
		harness.RunScenario(latestRebootReason(1, client.RebootReasonButtonReset))
	})

	It("reports a kernel panic and the reboot after it", func() {
		enableDataCollection(harness, util.CmdTicosdEnableDataCollection)
		// runtime.conf may be lost otherwise
		harness.ExecCmd(util.CmdSyncFilesystems)
		harness.ExecCmd(util.CmdKernelPanic)
		harness.Login()
		harness.RunScenario(latestRebootReason(1, client.RebootReasonKernelPanic))

		harness.Reboot()
		harness.RunScenario(latestRebootReason(2, client.RebootReasonUserReset))
	})
})
