package vm

import (
	"context"
	"fmt"
	"net"
	"strings"

	gliderssh "github.com/gliderlabs/ssh"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/ticos/ticos-e2e/internal/console"
	"github.com/ticos/ticos-e2e/pkg/log"
	"golang.org/x/crypto/ssh"
)

const testSSHPassword = "ticos"

// fakeSystemd answers systemctl the way a device with ticosd running and
// swupdate stopped would.
func fakeSystemd(s gliderssh.Session) {
	cmd := s.RawCommand()
	switch {
	case cmd == "systemctl is-active ticosd":
		fmt.Fprintln(s, console.StateActive)
	case cmd == "systemctl is-active swupdate":
		fmt.Fprintln(s, console.StateInactive)
		_ = s.Exit(3)
		return
	case strings.HasPrefix(cmd, "systemctl show -p "+console.PropActiveEnter):
		fmt.Fprintln(s, "5170000")
	default:
		fmt.Fprintf(s, "unknown command %q\n", cmd)
		_ = s.Exit(1)
		return
	}
	_ = s.Exit(0)
}

func startSSHServer() (*gliderssh.Server, int) {
	GinkgoHelper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).ToNot(HaveOccurred())
	srv := &gliderssh.Server{
		Handler: fakeSystemd,
		PasswordHandler: func(_ gliderssh.Context, password string) bool {
			return password == testSSHPassword
		},
	}
	go func() { _ = srv.Serve(l) }()
	DeferCleanup(func() { _ = srv.Close() })
	return srv, l.Addr().(*net.TCPAddr).Port
}

// sshOnlyVM is a VM that only offers SSH.
type sshOnlyVM struct {
	TestVMInterface
	vm *TestVM
}

func (s sshOnlyVM) SSHClient() (*ssh.Client, error) { return s.vm.SSHClient() }

var _ = Describe("SSH unit state", func() {
	var (
		ctx context.Context
		srv *gliderssh.Server
		vm  *TestVM
	)

	BeforeEach(func() {
		ctx = context.Background()
		var port int
		srv, port = startSSHServer()
		vm = &TestVM{VMUser: "root", SSHPassword: testSSHPassword, SSHPort: port, Log: log.Discard()}
	})

	It("waits for sshd and queries units", func() {
		Expect(vm.WaitForSSHToBeReady()).To(Succeed())

		q := NewSSHUnitQuery(sshOnlyVM{vm: vm})
		DeferCleanup(q.Close)

		Expect(q.ActiveState(ctx, "ticosd")).To(Equal(console.StateActive))
		By("a non-zero exit of is-active still reports the state")
		Expect(q.ActiveState(ctx, "swupdate")).To(Equal(console.StateInactive))
		Expect(q.Property(ctx, "ticosd", console.PropActiveEnter)).To(Equal("5170000"))

		_, err := q.Property(ctx, "ticosd", "NRestarts")
		Expect(err).To(HaveOccurred())
		Expect(q.client).ToNot(BeNil(), "a failing command keeps the connection")
	})

	It("reconnects after the connection dropped", func() {
		q := NewSSHUnitQuery(sshOnlyVM{vm: vm})
		DeferCleanup(q.Close)
		Expect(q.ActiveState(ctx, "ticosd")).To(Equal(console.StateActive))

		Expect(srv.Close()).To(Succeed())
		_, err := q.ActiveState(ctx, "ticosd")
		Expect(err).To(HaveOccurred())
		Expect(q.client).To(BeNil())

		By("the next query dials the restarted server")
		_, vm.SSHPort = startSSHServer()
		Expect(q.ActiveState(ctx, "ticosd")).To(Equal(console.StateActive))
	})
})
