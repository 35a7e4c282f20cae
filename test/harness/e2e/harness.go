package e2e

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"github.com/ticos/ticos-e2e/internal/api/client"
	cfgclient "github.com/ticos/ticos-e2e/internal/client"
	"github.com/ticos/ticos-e2e/internal/config"
	"github.com/ticos/ticos-e2e/internal/console"
	"github.com/ticos/ticos-e2e/internal/identity"
	"github.com/ticos/ticos-e2e/internal/provision"
	"github.com/ticos/ticos-e2e/internal/servicetester"
	"github.com/ticos/ticos-e2e/pkg/executer"
	ticoslog "github.com/ticos/ticos-e2e/pkg/log"
	"github.com/ticos/ticos-e2e/test/harness/e2e/vm"
	"github.com/ticos/ticos-e2e/test/util"
)

const consoleTailOnFailure = 4096

// Harness owns one provisioned device and everything needed to drive and
// observe it. It is not shared between specs.
type Harness struct {
	Config   *config.Config
	Log      logrus.FieldLogger
	Identity identity.Identity
	Image    *provision.Image
	VM       vm.TestVMInterface
	Console  *console.Console
	Units    console.UnitStateQuery
	Client   *client.Client
	Tester   *servicetester.Tester
	Context  context.Context

	ctxCancel context.CancelFunc
	slot      WorkerSlot
	cleaned   bool
}

// NewTestHarness provisions an image for a fresh identity, boots it and logs
// in on the serial console. Teardown is registered with DeferCleanup and runs
// even when the test fails.
func NewTestHarness(cfg *config.Config) *Harness {
	Expect(config.ValidateDevice(cfg)).To(Succeed())

	log := ticoslog.WithComponent(logrus.StandardLogger(), "harness")
	ctx, cancel := context.WithCancel(context.Background())
	h := &Harness{
		Config:    cfg,
		Log:       log,
		Identity:  identity.New(cfg.Device.HardwareVersion),
		Context:   ctx,
		ctxCancel: cancel,
	}
	DeferCleanup(h.Cleanup)
	h.Log = ticoslog.WithDevice(log, h.Identity.DeviceID)
	GinkgoWriter.Printf("device under test: %s\n", h.Identity)

	c, err := cfgclient.NewFromConfig(cfg, h.Log)
	Expect(err).ToNot(HaveOccurred())
	h.Client = c
	h.Tester = servicetester.NewFromConfig(c, cfg, h.Log)

	pool := GetOrCreateVMPool(VMPoolConfig{SSHPortBase: cfg.VM.SSHPortBase})
	h.slot, err = pool.SlotForWorker(GinkgoParallelProcess())
	Expect(err).ToNot(HaveOccurred())

	workDir := cfg.Image.WorkDir
	if workDir == "" {
		workDir = GinkgoT().TempDir()
	}
	exec := util.NewSafeExecuter(executer.NewCommonExecuter(executer.WithLogger(h.Log)), cfg.Image.TemplatePath)
	p := provision.NewFromConfig(cfg, exec, h.Log)
	h.Image, err = p.Provision(ctx, cfg.Image.TemplatePath, workDir, h.Identity)
	Expect(err).ToNot(HaveOccurred())

	params := vm.ParamsFromConfig(cfg, fmt.Sprintf("%s-%s", h.slot.VMName, h.Identity.DeviceID[:8]), h.slot.Dir, h.Image.Path, h.slot.SSHPort)
	params.Log = h.Log
	h.VM, err = vm.NewVM(cfg.VM.Backend, params)
	Expect(err).ToNot(HaveOccurred())
	Expect(pool.Register(h.slot.WorkerID, h.VM)).To(Succeed())
	Expect(h.VM.Run()).To(Succeed())
	h.Console = h.VM.Console()

	if cfg.VM.UseSSHForUnitState {
		h.Units = vm.NewSSHUnitQuery(h.VM)
	} else {
		h.Units = console.NewConsoleUnitQuery(h.Console, cfg.Timeouts.UnitState.Duration)
	}

	h.Login()
	h.waitForSSH()
	return h
}

// NewTestHarnessFromEnv skips the test when no usable configuration is present.
func NewTestHarnessFromEnv() *Harness {
	cfg, err := config.NewFromEnv()
	if err != nil {
		Skip(fmt.Sprintf("ticos e2e environment not configured: %v", err))
	}
	if err := config.ValidateDevice(cfg); err != nil {
		Skip(fmt.Sprintf("no device image configured: %v", err))
	}
	if missing := util.MissingBinaries(requiredBinaries(cfg)...); len(missing) > 0 {
		Skip(fmt.Sprintf("required tools not on PATH: %v", missing))
	}
	return NewTestHarness(cfg)
}

// Cleanup kills the VM and removes the working image. It is safe to call
// more than once.
func (h *Harness) Cleanup() {
	if h.cleaned {
		return
	}
	h.cleaned = true

	if CurrentSpecReport().Failed() && h.Console != nil {
		out := h.Console.Output()
		if len(out) > consoleTailOnFailure {
			out = out[len(out)-consoleTailOnFailure:]
		}
		GinkgoWriter.Printf("============ Console output ============\n%s\n========================================\n", out)
	}

	var errs []error
	if h.VM != nil {
		errs = append(errs, h.VM.ForceDelete())
		GetOrCreateVMPool(VMPoolConfig{}).Release(h.slot.WorkerID)
	}
	if q, ok := h.Units.(*vm.SSHUnitQuery); ok {
		errs = append(errs, q.Close())
	}
	if h.Image != nil {
		errs = append(errs, h.Image.Remove())
	}
	// stops any blocking call still waiting on the context
	h.ctxCancel()
	Expect(errors.Join(errs...)).ToNot(HaveOccurred())
}

func requiredBinaries(cfg *config.Config) []string {
	bins := []string{cfg.Image.WicBinary}
	if cfg.VM.Backend != config.VMBackendLibvirt {
		bins = append(bins, cfg.VM.QemuBinary)
	}
	return bins
}

func (h *Harness) timeouts() *config.TimeoutsConfig {
	return h.Config.Timeouts
}

// PollTimeout is the configured remote observation deadline, or d when it is
// larger.
func (h *Harness) PollTimeout(d time.Duration) time.Duration {
	return max(d, h.timeouts().Poll.Duration)
}
