package ticosd_test

import (
	. "github.com/onsi/ginkgo/v2"
	"github.com/ticos/ticos-e2e/test/harness/e2e"
	"github.com/ticos/ticos-e2e/test/util"
)

var _ = Describe("ticosd service", func() {
	var harness *e2e.Harness

	BeforeEach(func() {
		harness = e2e.NewTestHarnessFromEnv()
		harness.DisableSwupdate()
	})

	It("prints its usage", Label("smoke"), func() {
		harness.ExecCmd(util.CmdTicosdHelp)
		harness.MustExpect(util.TicosdUsage.String())
	})

	type toggleCommands struct {
		enable, disable string
	}

	DescribeTable("enabling and disabling data collection",
		func(cmds toggleCommands) {
			By("enabling data collection")
			toggleAndWaitForRestart(harness, cmds.enable, util.EnablingDataCollection)
			expectUnchanged(harness, cmds.enable, util.DataCollectionAlreadyEnabled, util.EnablingDataCollection)

			By("disabling data collection")
			toggleAndWaitForRestart(harness, cmds.disable, util.DisablingDataCollection)
			expectUnchanged(harness, cmds.disable, util.DataCollectionAlreadyDisabled, util.DisablingDataCollection)

			By("checking ticosd restarted without failing")
			checkRestartedCleanly(harness)
		},
		Entry("with ticosd flags", toggleCommands{util.CmdTicosdEnableDataCollection, util.CmdTicosdDisableDataCollection}),
		Entry("with ticosctl", toggleCommands{util.CmdEnableDataCollection, util.CmdDisableDataCollection}),
	)

	DescribeTable("enabling and disabling developer mode",
		func(cmds toggleCommands) {
			By("enabling developer mode")
			toggleAndWaitForRestart(harness, cmds.enable, util.EnablingDeveloperMode)
			expectUnchanged(harness, cmds.enable, util.DeveloperModeAlreadyEnabled, util.EnablingDeveloperMode)

			By("disabling developer mode")
			toggleAndWaitForRestart(harness, cmds.disable, util.DisablingDeveloperMode)
			expectUnchanged(harness, cmds.disable, util.DeveloperModeAlreadyDisabled, util.DisablingDeveloperMode)

			By("checking ticosd restarted in developer mode without failing")
			checkRestartedCleanly(harness, util.StartingWithDeveloperMode)
		},
		Entry("with ticosd flags", toggleCommands{util.CmdTicosdEnableDevMode, util.CmdTicosdDisableDevMode}),
		Entry("with ticosctl", toggleCommands{util.CmdEnableDevMode, util.CmdDisableDevMode}),
	)
})
