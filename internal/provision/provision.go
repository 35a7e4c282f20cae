package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/renameio"
	"github.com/sirupsen/logrus"
	"github.com/ticos/ticos-e2e/internal/config"
	"github.com/ticos/ticos-e2e/internal/identity"
	"github.com/ticos/ticos-e2e/pkg/executer"
	ticoslog "github.com/ticos/ticos-e2e/pkg/log"
)

// Error is returned for any failure while building a provisioned image. There
// is no retry: a half-patched image cannot be trusted.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provisioning %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Image is a per-test copy of the template with an injected identity.
type Image struct {
	Path         string
	TemplatePath string
	Identity     identity.Identity
	Partition    int
	ScriptPath   string
}

// Remove deletes the working copy. It is safe to call more than once.
func (i *Image) Remove() error {
	if i == nil || i.Path == "" {
		return nil
	}
	if err := os.Remove(i.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing provisioned image: %w", err)
	}
	return nil
}

// Provisioner injects device identities into copies of a wic disk image.
type Provisioner struct {
	exec       executer.Executer
	log        logrus.FieldLogger
	wic        string
	partition  int
	scriptPath string
}

type Option func(*Provisioner)

func WithWicBinary(bin string) Option {
	return func(p *Provisioner) { p.wic = bin }
}

func WithPartition(n int) Option {
	return func(p *Provisioner) { p.partition = n }
}

// WithScriptPath sets the absolute in-image path of the identity script.
func WithScriptPath(scriptPath string) Option {
	return func(p *Provisioner) { p.scriptPath = scriptPath }
}

func NewProvisioner(exec executer.Executer, log logrus.FieldLogger, opts ...Option) *Provisioner {
	p := &Provisioner{
		exec:       exec,
		log:        ticoslog.WithComponent(log, "provision"),
		wic:        "wic",
		partition:  config.DefaultRootPartition,
		scriptPath: config.DefaultIdentityScriptPath,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func NewFromConfig(cfg *config.Config, exec executer.Executer, log logrus.FieldLogger) *Provisioner {
	return NewProvisioner(exec, log,
		WithWicBinary(cfg.Image.WicBinary),
		WithPartition(cfg.Device.Partition),
		WithScriptPath(cfg.Device.IdentityScriptPath),
	)
}

// Provision copies templatePath into workDir and replaces the identity script
// inside the copy. The template is only ever read. On failure the partial
// copy is removed and a *Error is returned.
func (p *Provisioner) Provision(ctx context.Context, templatePath, workDir string, id identity.Identity) (*Image, error) {
	if err := id.Validate(); err != nil {
		return nil, &Error{Op: "validate identity", Path: templatePath, Err: err}
	}
	if _, err := p.exec.LookPath(p.wic); err != nil {
		return nil, &Error{Op: "locate image tool", Path: p.wic, Err: err}
	}

	src, err := filepath.Abs(templatePath)
	if err != nil {
		return nil, &Error{Op: "resolve template", Path: templatePath, Err: err}
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, &Error{Op: "create work dir", Path: workDir, Err: err}
	}
	// the script only has to exist until it is copied into the image
	scriptDir, err := os.MkdirTemp(workDir, "identity-")
	if err != nil {
		return nil, &Error{Op: "create work dir", Path: workDir, Err: err}
	}
	defer os.RemoveAll(scriptDir)

	img := &Image{
		Path:         filepath.Join(workDir, copyName(src, id)),
		TemplatePath: src,
		Identity:     id,
		Partition:    p.partition,
		ScriptPath:   p.scriptPath,
	}
	if img.Path == src {
		return nil, &Error{Op: "copy template", Path: src, Err: errors.New("working copy would overwrite the template")}
	}

	log := ticoslog.WithDevice(p.log, id.DeviceID)
	if created, err := p.provision(ctx, log, img, scriptDir); err != nil {
		// an existing file at img.Path belongs to someone else
		if created {
			if rmErr := img.Remove(); rmErr != nil {
				log.WithError(rmErr).Warn("failed to remove partial image")
			}
		}
		return nil, err
	}
	log.Infof("provisioned %s from %s", img.Path, src)
	return img, nil
}

// provision reports whether it created img.Path, so a failed call only
// cleans up after itself.
func (p *Provisioner) provision(ctx context.Context, log logrus.FieldLogger, img *Image, scriptDir string) (bool, error) {
	size, created, err := copyFile(img.TemplatePath, img.Path)
	if err != nil {
		return created, &Error{Op: "copy template", Path: img.TemplatePath, Err: err}
	}
	log.Debugf("copied template (%s)", humanize.Bytes(uint64(size))) //nolint:gosec

	localScript := filepath.Join(scriptDir, path.Base(p.scriptPath))
	if err := writeExecutable(localScript, img.Identity.Script()); err != nil {
		return true, &Error{Op: "write identity script", Path: localScript, Err: err}
	}

	inImageDir := path.Dir(p.scriptPath) + "/"
	present, err := p.exists(ctx, img, inImageDir, path.Base(p.scriptPath))
	if err != nil {
		return true, &Error{Op: "list image directory", Path: img.target(inImageDir), Err: err}
	}
	if present {
		if err := p.wicRun(ctx, "rm", img.target(p.scriptPath)); err != nil {
			return true, &Error{Op: "remove existing identity script", Path: img.target(p.scriptPath), Err: err}
		}
	}
	if err := p.wicRun(ctx, "cp", localScript, img.target(inImageDir)); err != nil {
		return true, &Error{Op: "insert identity script", Path: img.target(inImageDir), Err: err}
	}
	return true, nil
}

// Verify extracts the identity script from a provisioned image and checks it
// prints exactly the expected identity.
func (p *Provisioner) Verify(ctx context.Context, img *Image, dir string) error {
	out := filepath.Join(dir, "verify-"+img.Identity.DeviceID)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return &Error{Op: "verify", Path: out, Err: err}
	}
	defer os.RemoveAll(out)

	if err := p.wicRun(ctx, "cp", img.target(img.ScriptPath), out+"/"); err != nil {
		return &Error{Op: "verify", Path: img.target(img.ScriptPath), Err: err}
	}
	contents, err := os.ReadFile(filepath.Join(out, path.Base(img.ScriptPath)))
	if err != nil {
		return &Error{Op: "verify", Path: img.Path, Err: err}
	}
	got, err := identity.ParseEnv(contents)
	if err != nil {
		return &Error{Op: "verify", Path: img.Path, Err: err}
	}
	if got != img.Identity {
		return &Error{Op: "verify", Path: img.Path, Err: fmt.Errorf("image carries %s, want %s", got, img.Identity)}
	}
	return nil
}

func (p *Provisioner) exists(ctx context.Context, img *Image, dir, name string) (bool, error) {
	stdout, stderr, code := p.exec.ExecuteWithContext(ctx, p.wic, "ls", img.target(dir))
	if code != 0 {
		return false, fmt.Errorf("%s ls: exit %d: %s", p.wic, code, strings.TrimSpace(stderr))
	}
	for _, field := range strings.Fields(stdout) {
		if field == name {
			return true, nil
		}
	}
	return false, nil
}

func (p *Provisioner) wicRun(ctx context.Context, args ...string) error {
	_, stderr, code := p.exec.ExecuteWithContext(ctx, p.wic, args...)
	if code != 0 {
		return fmt.Errorf("%s %s: exit %d: %s", p.wic, args[0], code, strings.TrimSpace(stderr))
	}
	return nil
}

// target addresses a path inside the image's partition, as understood by wic.
func (i *Image) target(inImagePath string) string {
	return fmt.Sprintf("%s:%d%s", i.Path, i.Partition, inImagePath)
}

func copyName(template string, id identity.Identity) string {
	base := filepath.Base(template)
	ext := filepath.Ext(base)
	short := id.DeviceID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s.%s.copy%s", strings.TrimSuffix(base, ext), short, ext)
}

// copyFile never overwrites dst. created reports whether dst was created by
// this call, even when copying into it failed afterwards.
func copyFile(src, dst string) (n int64, created bool, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, false, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, false, err
	}
	n, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, true, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return n, true, err
	}
	return n, true, out.Close()
}

func writeExecutable(fpath string, b []byte) error {
	t, err := renameio.TempFile(filepath.Dir(fpath), fpath)
	if err != nil {
		return err
	}
	defer func() {
		_ = t.Cleanup()
	}()
	if err := t.Chmod(0o755); err != nil {
		return err
	}
	if _, err := t.Write(b); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
