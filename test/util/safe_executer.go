package util

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ticos/ticos-e2e/pkg/executer"
)

// SafeExecuter wraps a real executer and refuses image tool invocations that
// would modify one of the protected template images. Every test works on a
// copy; a write to the template would leak one test's identity into all
// later ones.
type SafeExecuter struct {
	wrapped   executer.Executer
	protected []string
}

func NewSafeExecuter(wrapped executer.Executer, protected ...string) *SafeExecuter {
	s := &SafeExecuter{wrapped: wrapped}
	for _, p := range protected {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		s.protected = append(s.protected, filepath.Clean(p))
	}
	return s
}

// isDangerousCommand reports whether command writes to a protected image.
// wic addresses files inside an image as IMAGE:PARTITION/PATH; rm writes to
// its only operand and cp to its last one.
func (s *SafeExecuter) isDangerousCommand(command string, args ...string) bool {
	if filepath.Base(command) != "wic" || len(args) < 2 {
		return false
	}
	var target string
	switch args[0] {
	case "rm":
		target = args[1]
	case "cp":
		target = args[len(args)-1]
	default:
		return false
	}
	image, _, _ := strings.Cut(target, ":")
	abs, err := filepath.Abs(image)
	return err == nil && slices.Contains(s.protected, filepath.Clean(abs))
}

func (s *SafeExecuter) blocked(command string, args ...string) string {
	return fmt.Sprintf("SafeExecuter blocked write to a template image: %s %s", command, strings.Join(args, " "))
}

func (s *SafeExecuter) LookPath(file string) (string, error) {
	return s.wrapped.LookPath(file)
}

func (s *SafeExecuter) CommandContext(ctx context.Context, command string, args ...string) *exec.Cmd {
	if s.isDangerousCommand(command, args...) {
		// a command that fails with a clear error
		return exec.CommandContext(ctx, "sh", "-c", `echo "$0" >&2; exit 1`, s.blocked(command, args...))
	}
	return s.wrapped.CommandContext(ctx, command, args...)
}

func (s *SafeExecuter) ExecuteWithContext(ctx context.Context, command string, args ...string) (stdout string, stderr string, exitCode int) {
	if s.isDangerousCommand(command, args...) {
		return "", s.blocked(command, args...), 1
	}
	return s.wrapped.ExecuteWithContext(ctx, command, args...)
}

func (s *SafeExecuter) ExecuteWithContextFromDir(ctx context.Context, workingDir string, command string, args []string, env ...string) (stdout string, stderr string, exitCode int) {
	if s.isDangerousCommand(command, args...) {
		return "", s.blocked(command, args...), 1
	}
	return s.wrapped.ExecuteWithContextFromDir(ctx, workingDir, command, args, env...)
}
