package vm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// SSHUnitQuery asks systemd for unit state over SSH, leaving the serial
// console untouched.
type SSHUnitQuery struct {
	vm     TestVMInterface
	mu     sync.Mutex
	client *ssh.Client
}

func NewSSHUnitQuery(vm TestVMInterface) *SSHUnitQuery {
	return &SSHUnitQuery{vm: vm}
}

func (q *SSHUnitQuery) ActiveState(ctx context.Context, unit string) (string, error) {
	// is-active exits non-zero for anything but active and still prints the state
	return q.run(ctx, fmt.Sprintf("systemctl is-active %s", unit), true)
}

func (q *SSHUnitQuery) Property(ctx context.Context, unit, property string) (string, error) {
	return q.run(ctx, fmt.Sprintf("systemctl show -p %s --value %s", property, unit), false)
}

func (q *SSHUnitQuery) run(ctx context.Context, command string, allowExitError bool) (string, error) {
	client, err := q.connect()
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		q.reset()
		return "", fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(command)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		var exitErr *ssh.ExitError
		switch {
		case r.err == nil:
		case errors.As(r.err, &exitErr):
			if !allowExitError {
				return "", fmt.Errorf("running %q: %w", command, r.err)
			}
		default:
			// the connection is gone, e.g. the device rebooted
			q.reset()
			return "", fmt.Errorf("running %q: %w", command, r.err)
		}
		return strings.TrimSpace(string(r.out)), nil
	}
}

func (q *SSHUnitQuery) connect() (*ssh.Client, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.client != nil {
		return q.client, nil
	}
	client, err := q.vm.SSHClient()
	if err != nil {
		return nil, fmt.Errorf("connecting over ssh: %w", err)
	}
	q.client = client
	return client, nil
}

// reset drops the cached connection, e.g. after the device rebooted.
func (q *SSHUnitQuery) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.client != nil {
		_ = q.client.Close()
		q.client = nil
	}
}

func (q *SSHUnitQuery) Close() error {
	q.reset()
	return nil
}
