package vm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/creack/pty"
	"github.com/ticos/ticos-e2e/internal/console"
	"github.com/ticos/ticos-e2e/pkg/executer"
	ticoslog "github.com/ticos/ticos-e2e/pkg/log"
	"golang.org/x/sys/unix"
)

const qemuStopTimeout = 10 * time.Second

// defaultQemuArgs boot a raw disk image with the serial console on stdio and
// SSH forwarded to the host.
var defaultQemuArgs = []string{
	"-machine", "virt",
	"-cpu", "cortex-a57",
	"-m", "{{.MemoryMiB}}",
	"-drive", "if=none,format=raw,file={{.DiskImagePath}},id=hd0",
	"-device", "virtio-blk-device,drive=hd0",
	"-netdev", "user,id=net0,hostfwd=tcp::{{.SSHPort}}-:22",
	"-device", "virtio-net-device,netdev=net0",
	"-nographic",
	"-serial", "mon:stdio",
	"-name", "{{.VMName}}",
}

type VMInQemu struct {
	TestVM
	exec executer.Executer

	mu      sync.Mutex
	cmd     *exec.Cmd
	ptmx    *os.File
	console *console.Console
	exited  chan struct{}
	waitErr error
}

func NewQemuVM(params TestVM) (*VMInQemu, error) {
	if params.QemuBinary == "" {
		params.QemuBinary = "qemu-system-aarch64"
	}
	if params.MemoryMiB == 0 {
		params.MemoryMiB = 512
	}
	if params.Log == nil {
		params.Log = ticoslog.Discard()
	}
	params.Log = ticoslog.WithComponent(params.Log, "qemu")
	return &VMInQemu{
		TestVM: params,
		exec:   executer.NewCommonExecuter(executer.WithLogger(params.Log)),
	}, nil
}

// Args renders the qemu command line.
func (v *VMInQemu) Args() ([]string, error) {
	raw := v.QemuArgs
	if len(raw) == 0 {
		raw = defaultQemuArgs
	}
	args := make([]string, 0, len(raw))
	for i, a := range raw {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(a)
		if err != nil {
			return nil, fmt.Errorf("parsing qemu argument %q: %w", a, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, v.TestVM); err != nil {
			return nil, fmt.Errorf("rendering qemu argument %q: %w", a, err)
		}
		args = append(args, buf.String())
	}
	return args, nil
}

func (v *VMInQemu) Run() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cmd != nil {
		return errors.New("vm already started")
	}
	if _, err := os.Stat(v.DiskImagePath); err != nil {
		return fmt.Errorf("disk image: %w", err)
	}
	args, err := v.Args()
	if err != nil {
		return err
	}
	v.Log.Infof("Starting VM %s: %s %s", v.VMName, v.QemuBinary, strings.Join(args, " "))

	cmd := v.exec.CommandContext(context.Background(), v.QemuBinary, args...)
	// pty.Start makes qemu a session leader which also leads its own group
	cmd.SysProcAttr.Setpgid = false
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("starting %s: %w", v.QemuBinary, err)
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: 50, Cols: 250}); err != nil {
		v.Log.Warnf("setting console size: %v", err)
	}

	opts := []console.Option{console.WithLogger(v.Log)}
	if v.DebugConsole {
		opts = append(opts, console.WithMirror(os.Stdout))
	}
	v.cmd = cmd
	v.ptmx = ptmx
	v.console = console.New(ptmx, opts...)
	v.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		v.mu.Lock()
		v.waitErr = err
		v.mu.Unlock()
		close(v.exited)
	}()
	return nil
}

func (v *VMInQemu) Console() *console.Console {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.console
}

func (v *VMInQemu) IsRunning() (bool, error) {
	v.mu.Lock()
	exited := v.exited
	v.mu.Unlock()
	if exited == nil {
		return false, nil
	}
	select {
	case <-exited:
		return false, nil
	default:
		return true, nil
	}
}

// Shutdown asks qemu to stop and kills its process group if it does not.
func (v *VMInQemu) Shutdown() error {
	v.mu.Lock()
	cmd, exited := v.cmd, v.exited
	v.mu.Unlock()
	if cmd == nil {
		return nil
	}

	select {
	case <-exited:
	default:
		v.Log.Infof("Stopping VM %s", v.VMName)
		if err := unix.Kill(-cmd.Process.Pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("signalling qemu: %w", err)
		}
		select {
		case <-exited:
		case <-time.After(qemuStopTimeout):
			v.Log.Warnf("qemu did not exit in %s, killing it", qemuStopTimeout)
			if err := executer.KillGroup(cmd); err != nil && !errors.Is(err, unix.ESRCH) {
				return fmt.Errorf("killing qemu: %w", err)
			}
			<-exited
		}
	}
	return v.closeConsole()
}

func (v *VMInQemu) closeConsole() error {
	v.mu.Lock()
	c, ptmx := v.console, v.ptmx
	v.mu.Unlock()
	var errs []error
	if c != nil {
		// closes the pty as well
		errs = append(errs, c.Close())
	} else if ptmx != nil {
		errs = append(errs, ptmx.Close())
	}
	return errors.Join(errs...)
}

// ForceDelete stops the VM. The disk image belongs to the caller.
func (v *VMInQemu) ForceDelete() error {
	if err := v.Shutdown(); err != nil {
		return fmt.Errorf("unable to shutdown VM: %w", err)
	}
	return nil
}

func (v *VMInQemu) GetConsoleOutput() string {
	c := v.Console()
	if c == nil {
		return ""
	}
	return c.Output()
}
