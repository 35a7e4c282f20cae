package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"sigs.k8s.io/yaml"
)

const (
	appName = "ticos-e2e"

	VMBackendQemu    = "qemu"
	VMBackendLibvirt = "libvirt"

	// DefaultIdentityScriptPath is where the device init sequence looks for its identity.
	DefaultIdentityScriptPath = "/usr/bin/ticos-device-info"
	// DefaultRootPartition is the wic partition number holding the root filesystem.
	DefaultRootPartition = 2
)

var (
	ErrMissingBaseURL      = errors.New("service.baseUrl is required")
	ErrMissingOrganization = errors.New("service.organizationSlug is required")
	ErrMissingProject      = errors.New("service.projectSlug is required")
	ErrMissingToken        = errors.New("service.organizationToken is required")
	ErrMissingTemplate     = errors.New("image.templatePath is required")
)

type Config struct {
	Service  *ServiceConfig  `json:"service,omitempty"`
	Device   *DeviceConfig   `json:"device,omitempty"`
	Image    *ImageConfig    `json:"image,omitempty"`
	VM       *VMConfig       `json:"vm,omitempty"`
	Timeouts *TimeoutsConfig `json:"timeouts,omitempty"`
	LogLevel string          `json:"logLevel,omitempty"`
	// LogFile additionally receives the harness log when set.
	LogFile  string          `json:"logFile,omitempty"`
}

// ServiceConfig locates the Ticos backend the device under test reports to.
type ServiceConfig struct {
	// BaseUrl is the part before /api/v0/...
	BaseUrl           string       `json:"baseUrl,omitempty"`
	OrganizationSlug  string       `json:"organizationSlug,omitempty"`
	ProjectSlug       string       `json:"projectSlug,omitempty"`
	OrganizationToken SecureString `json:"organizationToken,omitempty"`
	RequestTimeout    Duration     `json:"requestTimeout,omitempty"`
}

type DeviceConfig struct {
	HardwareVersion    string `json:"hardwareVersion,omitempty"`
	IdentityScriptPath string `json:"identityScriptPath,omitempty"`
	Partition          int    `json:"partition,omitempty"`
	LoginUser          string `json:"loginUser,omitempty"`
	LoginPrompt        string `json:"loginPrompt,omitempty"`
	ShellPrompt        string `json:"shellPrompt,omitempty"`
}

type ImageConfig struct {
	TemplatePath string `json:"templatePath,omitempty"`
	// WorkDir holds per-test image copies; empty means the test's temp dir.
	WorkDir   string `json:"workDir,omitempty"`
	WicBinary string `json:"wicBinary,omitempty"`
}

type VMConfig struct {
	Backend     string   `json:"backend,omitempty"`
	QemuBinary  string   `json:"qemuBinary,omitempty"`
	QemuArgs    []string `json:"qemuArgs,omitempty"`
	LibvirtUri  string   `json:"libvirtUri,omitempty"`
	Memory      int      `json:"memoryMiB,omitempty"`
	SSHPortBase int      `json:"sshPortBase,omitempty"`
	SSHUser     string   `json:"sshUser,omitempty"`
	SSHPassword string   `json:"sshPassword,omitempty"`
	// UseSSHForUnitState queries systemd over SSH instead of the serial console.
	UseSSHForUnitState bool `json:"useSSHForUnitState,omitempty"`
	DebugConsole       bool `json:"debugConsole,omitempty"`
}

type TimeoutsConfig struct {
	Boot         Duration `json:"boot,omitempty"`
	Expect       Duration `json:"expect,omitempty"`
	UnitState    Duration `json:"unitState,omitempty"`
	Poll         Duration `json:"poll,omitempty"`
	PollInterval Duration `json:"pollInterval,omitempty"`
	IdleWindow   Duration `json:"idleWindow,omitempty"`
}

func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(home, "."+appName)
}

func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func NewDefault() *Config {
	return &Config{
		Service: &ServiceConfig{
			BaseUrl:        "https://api.ticos.com",
			RequestTimeout: NewDuration(10 * time.Second),
		},
		Device: &DeviceConfig{
			HardwareVersion:    "qemuarm64",
			IdentityScriptPath: DefaultIdentityScriptPath,
			Partition:          DefaultRootPartition,
			LoginUser:          "root",
			LoginPrompt:        " login:",
			ShellPrompt:        `root@[^:]*:~#`,
		},
		Image: &ImageConfig{
			WicBinary: "wic",
		},
		VM: &VMConfig{
			Backend:     VMBackendQemu,
			QemuBinary:  "qemu-system-aarch64",
			Memory:      512,
			SSHPortBase: 2222,
			SSHUser:     "root",
		},
		Timeouts: &TimeoutsConfig{
			Boot:         NewDuration(5 * time.Minute),
			Expect:       NewDuration(60 * time.Second),
			UnitState:    NewDuration(30 * time.Second),
			Poll:         NewDuration(60 * time.Second),
			PollInterval: NewDuration(time.Second),
			IdleWindow:   NewDuration(500 * time.Millisecond),
		},
		LogLevel: "info",
	}
}

// NewFromFile loads, overrides from the environment and validates.
func NewFromFile(cfgFile string) (*Config, error) {
	cfg, err := Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewFromEnv starts from the defaults and applies the TICOS_E2E_* variables.
// A config file named by TICOS_E2E_CONFIG is layered in between when set.
func NewFromEnv() (*Config, error) {
	if path := os.Getenv("TICOS_E2E_CONFIG"); path != "" {
		return NewFromFile(path)
	}
	cfg := NewDefault()
	cfg.ApplyEnvOverrides()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a config file on top of the defaults.
func Load(cfgFile string) (*Config, error) {
	contents, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	c := NewDefault()
	if err := yaml.Unmarshal(contents, c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	c.fillDefaults()
	return c, nil
}

func Save(cfg *Config, cfgFile string) error {
	contents, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfgFile), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := renameio.WriteFile(cfgFile, contents, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// fillDefaults restores sections a config file set to null or left partially empty.
func (cfg *Config) fillDefaults() {
	def := NewDefault()
	if cfg.Service == nil {
		cfg.Service = def.Service
	}
	if cfg.Device == nil {
		cfg.Device = def.Device
	}
	if cfg.Image == nil {
		cfg.Image = def.Image
	}
	if cfg.VM == nil {
		cfg.VM = def.VM
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = def.Timeouts
	}
	if cfg.Service.OrganizationToken == redactedPlaceholder {
		cfg.Service.OrganizationToken = ""
	}
	if cfg.Device.Partition == 0 {
		cfg.Device.Partition = def.Device.Partition
	}
	if cfg.Device.IdentityScriptPath == "" {
		cfg.Device.IdentityScriptPath = def.Device.IdentityScriptPath
	}
	if cfg.Timeouts.PollInterval.Duration == 0 {
		cfg.Timeouts.PollInterval = def.Timeouts.PollInterval
	}
}

// ApplyEnvOverrides applies the environment variables the CI jobs set.
func (cfg *Config) ApplyEnvOverrides() {
	cfg.fillDefaults()
	if v := os.Getenv("TICOS_E2E_API_BASE_URL"); v != "" {
		cfg.Service.BaseUrl = v
	}
	if v := os.Getenv("TICOS_E2E_ORGANIZATION_SLUG"); v != "" {
		cfg.Service.OrganizationSlug = v
	}
	if v := os.Getenv("TICOS_E2E_PROJECT_SLUG"); v != "" {
		cfg.Service.ProjectSlug = v
	}
	if v := os.Getenv("TICOS_E2E_ORG_TOKEN"); v != "" {
		cfg.Service.OrganizationToken = SecureString(v)
	}
	if v := os.Getenv("TICOS_HARDWARE_VERSION"); v != "" {
		cfg.Device.HardwareVersion = v
	}
	if v := os.Getenv("TICOS_E2E_IMAGE"); v != "" {
		cfg.Image.TemplatePath = v
	}
	if v := os.Getenv("TICOS_E2E_VM_BACKEND"); v != "" {
		cfg.VM.Backend = v
	}
	if os.Getenv("DEBUG_VM_CONSOLE") == "1" {
		cfg.VM.DebugConsole = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TICOS_E2E_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}

// Validate checks the parts every harness component depends on. Image and
// VM settings are checked by ValidateDevice since API-only tools do not need them.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.Service == nil || cfg.Service.BaseUrl == "" {
		errs = append(errs, ErrMissingBaseURL)
	} else if u, err := url.Parse(cfg.Service.BaseUrl); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("service.baseUrl %q is not an absolute URL", cfg.Service.BaseUrl))
	}
	if cfg.Service != nil {
		if cfg.Service.OrganizationSlug == "" {
			errs = append(errs, ErrMissingOrganization)
		}
		if cfg.Service.ProjectSlug == "" {
			errs = append(errs, ErrMissingProject)
		}
		if cfg.Service.OrganizationToken == "" {
			errs = append(errs, ErrMissingToken)
		}
	}
	if cfg.Timeouts != nil {
		for name, d := range map[string]Duration{
			"boot":         cfg.Timeouts.Boot,
			"expect":       cfg.Timeouts.Expect,
			"unitState":    cfg.Timeouts.UnitState,
			"poll":         cfg.Timeouts.Poll,
			"pollInterval": cfg.Timeouts.PollInterval,
			"idleWindow":   cfg.Timeouts.IdleWindow,
		} {
			if d.Duration < 0 {
				errs = append(errs, fmt.Errorf("timeouts.%s must not be negative", name))
			}
		}
		// a zero wait would make every expectation a single scan of the output
		for name, d := range map[string]Duration{
			"boot":       cfg.Timeouts.Boot,
			"expect":     cfg.Timeouts.Expect,
			"unitState":  cfg.Timeouts.UnitState,
			"idleWindow": cfg.Timeouts.IdleWindow,
		} {
			if d.Duration == 0 {
				errs = append(errs, fmt.Errorf("timeouts.%s must be greater than zero", name))
			}
		}
	}
	return errors.Join(errs...)
}

// ValidateDevice checks what is needed to provision and boot a device.
func ValidateDevice(cfg *Config) error {
	var errs []error
	if cfg.Image == nil || cfg.Image.TemplatePath == "" {
		errs = append(errs, ErrMissingTemplate)
	}
	if cfg.Device == nil || cfg.Device.HardwareVersion == "" {
		errs = append(errs, errors.New("device.hardwareVersion is required"))
	}
	if cfg.VM != nil {
		switch cfg.VM.Backend {
		case VMBackendQemu, VMBackendLibvirt:
		default:
			errs = append(errs, fmt.Errorf("vm.backend must be one of (%s)", strings.Join([]string{VMBackendQemu, VMBackendLibvirt}, ", ")))
		}
	}
	return errors.Join(errs...)
}

func (cfg *Config) String() string {
	contents, err := json.Marshal(cfg)
	if err != nil {
		return "<error>"
	}
	return string(contents)
}
