package vm

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ticos/ticos-e2e/internal/config"
	"github.com/ticos/ticos-e2e/internal/console"
	"github.com/ticos/ticos-e2e/pkg/poll"
	"golang.org/x/crypto/ssh"
)

const sshWaitTimeout time.Duration = 60 * time.Second

type TestVM struct {
	TestDir       string
	VMName        string
	DiskImagePath string
	LibvirtUri    string //libvirt only
	QemuBinary    string //qemu only
	QemuArgs      []string
	MemoryMiB     int
	VMUser        string //user to use when connecting to the VM
	SSHPassword   string
	SSHPort       int
	// DebugConsole mirrors the serial console to stdout.
	DebugConsole bool
	Log          logrus.FieldLogger
}

type TestVMInterface interface {
	Run() error
	ForceDelete() error
	Shutdown() error
	IsRunning() (bool, error)
	// Console is the device's serial console. It is nil before Run.
	Console() *console.Console
	WaitForSSHToBeReady() error
	SSHClient() (*ssh.Client, error)
	GetConsoleOutput() string
}

// NewVM returns the backend named by backend without starting it.
func NewVM(backend string, params TestVM) (TestVMInterface, error) {
	if params.Log == nil {
		params.Log = logrus.StandardLogger()
	}
	switch backend {
	case config.VMBackendQemu, "":
		return NewQemuVM(params)
	case config.VMBackendLibvirt:
		return NewLibvirtVM(params)
	default:
		return nil, fmt.Errorf("unknown vm backend %q", backend)
	}
}

// ParamsFromConfig fills the VM parameters the config controls.
func ParamsFromConfig(cfg *config.Config, name, testDir, diskImage string, sshPort int) TestVM {
	return TestVM{
		TestDir:       testDir,
		VMName:        name,
		DiskImagePath: diskImage,
		LibvirtUri:    cfg.VM.LibvirtUri,
		QemuBinary:    cfg.VM.QemuBinary,
		QemuArgs:      cfg.VM.QemuArgs,
		MemoryMiB:     cfg.VM.Memory,
		VMUser:        cfg.VM.SSHUser,
		SSHPassword:   cfg.VM.SSHPassword,
		SSHPort:       sshPort,
		DebugConsole:  cfg.VM.DebugConsole,
	}
}

func (v *TestVM) sshConfig() *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User: v.VMUser,
		Auth: []ssh.AuthMethod{
			ssh.Password(v.SSHPassword),
		},
		//nolint:gosec
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         1 * time.Second,
	}
}

func (v *TestVM) sshAddr() string {
	return net.JoinHostPort("localhost", strconv.Itoa(v.SSHPort))
}

func (v *TestVM) SSHClient() (*ssh.Client, error) {
	return ssh.Dial("tcp", v.sshAddr(), v.sshConfig())
}

func (v *TestVM) WaitForSSHToBeReady() error {
	v.Log.Infof("Waiting for VM SSH to be ready on %s", v.sshAddr())

	backoff := &poll.Config{BaseDelay: time.Second, Factor: 1.5, MaxDelay: 5 * time.Second}
	err := poll.BackoffWithContext(context.Background(), backoff, sshWaitTimeout, func(context.Context) (bool, error) {
		client, err := v.SSHClient()
		if err != nil {
			v.Log.Debugf("failed to connect to SSH server: %s", err)
			return false, nil
		}
		client.Close()
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("SSH did not become ready in %s: %w", sshWaitTimeout, err)
	}
	return nil
}
