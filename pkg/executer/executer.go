package executer

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

//go:generate go run go.uber.org/mock/mockgen -source=executer.go -destination=mock_executer.go -package=executer

// Executer runs host-side tools (image tooling, QEMU) on behalf of the harness.
type Executer interface {
	CommandContext(ctx context.Context, command string, args ...string) *exec.Cmd
	ExecuteWithContext(ctx context.Context, command string, args ...string) (stdout string, stderr string, exitCode int)
	ExecuteWithContextFromDir(ctx context.Context, workingDir string, command string, args []string, env ...string) (stdout string, stderr string, exitCode int)
	LookPath(file string) (string, error)
}

type commonExecuter struct {
	env []string
	log logrus.FieldLogger
}

type ExecuterOption func(e *commonExecuter)

// WithEnv appends variables to the environment of every command.
func WithEnv(env ...string) ExecuterOption {
	return func(e *commonExecuter) {
		e.env = append(e.env, env...)
	}
}

func WithLogger(log logrus.FieldLogger) ExecuterOption {
	return func(e *commonExecuter) {
		e.log = log
	}
}

func NewCommonExecuter(options ...ExecuterOption) *commonExecuter {
	e := &commonExecuter{
		log: logrus.StandardLogger(),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

func (e *commonExecuter) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (e *commonExecuter) ExecuteWithContext(ctx context.Context, command string, args ...string) (stdout string, stderr string, exitCode int) {
	cmd := e.CommandContext(ctx, command, args...)
	return e.execute(ctx, cmd)
}

func (e *commonExecuter) ExecuteWithContextFromDir(ctx context.Context, workingDir string, command string, args []string, env ...string) (stdout string, stderr string, exitCode int) {
	cmd := e.CommandContext(ctx, command, args...)
	cmd.Dir = workingDir
	cmd.Env = append(cmd.Env, env...)
	return e.execute(ctx, cmd)
}

func (e *commonExecuter) execute(ctx context.Context, cmd *exec.Cmd) (stdout string, stderr string, exitCode int) {
	var stdoutBytes, stderrBytes bytes.Buffer
	cmd.Stdout = &stdoutBytes
	cmd.Stderr = &stderrBytes

	e.log.Debugf("exec: %s", strings.Join(cmd.Args, " "))
	if err := cmd.Run(); err != nil {
		// handle timeout error
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return stdoutBytes.String(), context.DeadlineExceeded.Error(), 124
		}
		return stdoutBytes.String(), getErrorStr(err, &stderrBytes), getExitCode(err)
	}

	return stdoutBytes.String(), stderrBytes.String(), 0
}

func getExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if state, ok := exitErr.ProcessState.Sys().(syscall.WaitStatus); ok {
			if state.Signal() == syscall.SIGKILL {
				return 137 // 128 + 9 (SIGKILL)
			}
		}
		return exitErr.ExitCode()
	}

	return -1
}

func getErrorStr(err error, stderr *bytes.Buffer) string {
	b := stderr.Bytes()
	if len(b) > 0 {
		return string(b)
	} else if err != nil {
		return err.Error()
	}

	return ""
}
