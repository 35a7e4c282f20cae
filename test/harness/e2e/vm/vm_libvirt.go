package vm

import (
	"bytes"
	_ "embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"text/template"
	"time"

	"github.com/ticos/ticos-e2e/internal/console"
	ticoslog "github.com/ticos/ticos-e2e/pkg/log"
	"libvirt.org/go/libvirt"
)

//go:embed domain-template.xml
var domainTemplate string

const defaultLibvirtUri = "qemu:///session"

type VMInLibvirt struct {
	TestVM
	domain  *libvirt.Domain
	stream  *libvirt.Stream
	console *console.Console
	mu      sync.Mutex
}

func NewLibvirtVM(params TestVM) (*VMInLibvirt, error) {
	if params.LibvirtUri == "" {
		params.LibvirtUri = defaultLibvirtUri
	}
	if params.MemoryMiB == 0 {
		params.MemoryMiB = 512
	}
	if params.Log == nil {
		params.Log = ticoslog.Discard()
	}
	params.Log = ticoslog.WithComponent(params.Log, "libvirt")
	return &VMInLibvirt{TestVM: params}, nil
}

func (v *VMInLibvirt) Run() error {
	v.Log.Infof("Creating VM %s", v.VMName)
	conn, err := libvirt.NewConnect(v.LibvirtUri)
	if err != nil {
		return err
	}
	defer conn.Close()

	domainXML, err := v.DomainXML()
	if err != nil {
		return err
	}
	v.Log.Debugf("domainXML:\n%s\n\n", domainXML)

	v.domain, err = conn.DomainDefineXMLFlags(domainXML, libvirt.DOMAIN_DEFINE_VALIDATE)
	if err != nil {
		return fmt.Errorf("unable to define virtual machine domain: %w", err)
	}
	if err = v.domain.Create(); err != nil {
		return fmt.Errorf("unable to start virtual machine domain: %w", err)
	}
	if err = v.waitForVMToBeRunning(); err != nil {
		return fmt.Errorf("unable to wait for VM to be running: %w", err)
	}

	v.stream, err = conn.NewStream(0)
	if err != nil {
		return fmt.Errorf("unable to create new stream: %w", err)
	}
	if err = v.domain.OpenConsole("", v.stream, libvirt.DOMAIN_CONSOLE_FORCE); err != nil {
		return fmt.Errorf("unable to open console: %w", err)
	}

	// the VM freezes if its console is not read continuously; the console reader does that
	opts := []console.Option{console.WithLogger(v.Log)}
	if v.DebugConsole {
		opts = append(opts, console.WithMirror(os.Stdout))
	}
	v.mu.Lock()
	v.console = console.New(&streamConn{stream: v.stream}, opts...)
	v.mu.Unlock()
	return nil
}

// DomainXML renders the domain definition and checks it is well formed.
func (v *VMInLibvirt) DomainXML() (string, error) {
	tmpl, err := template.New("domain-template").Option("missingkey=error").Parse(domainTemplate)
	if err != nil {
		return "", fmt.Errorf("unable to parse domain template: %w", err)
	}

	type templateParams struct {
		Name          string
		DiskImagePath string
		MemoryMiB     int
		SSHPort       int
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, templateParams{
		Name:          xmlEscape(v.VMName),
		DiskImagePath: xmlEscape(v.DiskImagePath),
		MemoryMiB:     v.MemoryMiB,
		SSHPort:       v.SSHPort,
	})
	if err != nil {
		return "", fmt.Errorf("unable to execute domain template: %w", err)
	}

	var probe struct{}
	if err := xml.Unmarshal(buf.Bytes(), &probe); err != nil {
		return "", fmt.Errorf("rendered domain is not valid XML: %w", err)
	}
	return buf.String(), nil
}

func xmlEscape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func (v *VMInLibvirt) waitForVMToBeRunning() error {
	timeout := 60 * time.Second
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state, _, err := v.domain.GetState()
		if err != nil {
			return fmt.Errorf("unable to get VM state: %w", err)
		}
		if state == libvirt.DOMAIN_RUNNING {
			return nil
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("VM did not start in %s", timeout)
}

func (v *VMInLibvirt) Console() *console.Console {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.console
}

func (v *VMInLibvirt) GetConsoleOutput() string {
	c := v.Console()
	if c == nil {
		return ""
	}
	return c.Output()
}

// Delete removes the VM definition.
func (v *VMInLibvirt) Delete() error {
	if v.domain == nil {
		return nil
	}
	err := v.domain.UndefineFlags(libvirt.DOMAIN_UNDEFINE_NVRAM)
	if nvramFlagRejected(err) {
		err = v.domain.Undefine()
	}
	if err != nil {
		return fmt.Errorf("unable to undefine VM: %w", err)
	}
	v.Log.Infof("Deleted VM: %s", v.VMName)
	if err := v.domain.Free(); err != nil {
		v.Log.Warnf("freeing domain: %v", err)
	}
	v.domain = nil
	return nil
}

func (v *VMInLibvirt) Shutdown() error {
	isRunning, err := v.IsRunning()
	if err != nil {
		return fmt.Errorf("unable to check if VM is running: %w", err)
	}
	if isRunning {
		if err := v.domain.Destroy(); err != nil {
			return fmt.Errorf("unable to destroy VM: %w", err)
		}
	}
	if c := v.Console(); c != nil {
		if err := c.Close(); err != nil {
			v.Log.Warnf("closing console: %v", err)
		}
	}
	if v.stream != nil {
		// the reader has stopped once the console is closed
		if err := v.stream.Free(); err != nil {
			v.Log.Warnf("freeing console stream: %v", err)
		}
		v.stream = nil
	}
	return nil
}

// ForceDelete stops and removes the VM.
func (v *VMInLibvirt) ForceDelete() error {
	if err := v.Shutdown(); err != nil {
		return fmt.Errorf("unable to shutdown VM: %w", err)
	}
	if err := v.Delete(); err != nil {
		return fmt.Errorf("unable to remove VM: %w", err)
	}
	return nil
}

func (v *VMInLibvirt) IsRunning() (bool, error) {
	if v.domain == nil {
		return false, nil
	}
	state, _, err := v.domain.GetState()
	if err != nil {
		return false, fmt.Errorf("unable to get VM state: %w", err)
	}
	return state == libvirt.DOMAIN_RUNNING, nil
}

// streamConn adapts a libvirt console stream to io.ReadWriteCloser.
type streamConn struct {
	stream    *libvirt.Stream
	closeOnce sync.Once
	closeErr  error
}

func (s *streamConn) Read(p []byte) (int, error) {
	n, err := s.stream.Recv(p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *streamConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := s.stream.Send(p[written:])
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (s *streamConn) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stream.Abort()
	})
	return s.closeErr
}

// nvramFlagRejected reports whether libvirt refused DOMAIN_UNDEFINE_NVRAM,
// which older versions do for domains without NVRAM.
func nvramFlagRejected(err error) bool {
	var le libvirt.Error
	return errors.As(err, &le) && le.Code == libvirt.ERR_INVALID_ARG
}
