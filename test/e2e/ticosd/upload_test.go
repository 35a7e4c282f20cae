package ticosd_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/ticos/ticos-e2e/internal/console"
	"github.com/ticos/ticos-e2e/internal/servicetester"
	"github.com/ticos/ticos-e2e/test/harness/e2e"
	"github.com/ticos/ticos-e2e/test/util"
)

var _ = Describe("uploads", func() {
	var harness *e2e.Harness

	BeforeEach(func() {
		harness = e2e.NewTestHarnessFromEnv()
		harness.DisableSwupdate()
	})

	reportsWithMetrics := e2e.Step{
		Name: "waiting for a report with metrics",
		Remote: func(ctx context.Context) error {
			_, err := harness.Tester.PollReportsWithMetrics(ctx, harness.Identity.DeviceID, harness.PollTimeout(remoteTimeout))
			return err
		},
	}

	It("uploads collectd metrics", func() {
		harness.ExecCmd(util.CmdCollectdInterval5s)
		enableDataCollection(harness, util.CmdTicosdEnableDataCollection)
		harness.WaitForServiceState(util.COLLECTD_SERVICE, console.StateActive)
		harness.RunScenario(reportsWithMetrics)
	})

	It("uploads metrics on request", func() {
		enableDataCollection(harness, util.CmdEnableDataCollection)
		harness.WaitForServiceState(util.COLLECTD_SERVICE, console.StateActive)
		harness.RunScenario(
			e2e.Step{
				Name:   "requesting metrics",
				Action: util.CmdRequestMetrics,
				Local:  []string{util.RequestingCollectd.String()},
			},
			reportsWithMetrics,
		)
	})

	It("uploads a coredump", func() {
		enableDataCollection(harness, util.CmdTicosdEnableDataCollection)
		harness.RunScenario(
			e2e.Step{
				Name:   "triggering a coredump",
				Action: util.CmdTriggerCoredump,
				Local:  []string{util.CoredumpEnqueued.String()},
			},
			e2e.Step{
				Name:   "flushing the upload queue",
				Action: util.CmdFlushTicosd,
				Local:  []string{util.FileTransmitted.String()},
			},
			e2e.Step{
				Name: "waiting for the coredump to be processed",
				Remote: func(ctx context.Context) error {
					_, err := harness.Tester.PollElfCoredumpsUntilCount(ctx, 1, harness.Identity.DeviceID, harness.PollTimeout(remoteTimeout))
					return err
				},
			},
		)
	})

	It("uploads attributes with their types", func() {
		enableDataCollection(harness, util.CmdEnableDataCollection)
		want := map[string]any{
			"a_string":         "running",
			"a_bool":           false,
			"a_boolish_string": "true",
			"a_float":          42.42,
		}
		harness.ExecCmd(util.CmdWriteAttributes)
		harness.RunScenario(e2e.Step{
			Name:   "syncing",
			Action: util.CmdSync,
			Remote: func(ctx context.Context) error {
				got, err := harness.Tester.PollAttributesUntil(ctx, harness.Identity.DeviceID, want, harness.PollTimeout(remoteTimeout))
				if err != nil {
					return err
				}
				Expect(got).To(HaveKeyWithValue("a_bool", BeFalse()))
				return nil
			},
		})

		By("checking the uploaded attributes stay as written")
		attrs, err := servicetester.PollUntilNotRaising(harness.Context, func(ctx context.Context) (map[string]any, error) {
			return harness.Tester.PollAttributesUntil(ctx, harness.Identity.DeviceID, want, 0)
		}, 5*time.Second, time.Second)
		Expect(err).ToNot(HaveOccurred())
		Expect(attrs).To(HaveKeyWithValue("a_float", 42.42))
	})
})
