package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/ticos/ticos-e2e/internal/config"
	"github.com/ticos/ticos-e2e/internal/identity"
	"github.com/ticos/ticos-e2e/internal/provision"
	"github.com/ticos/ticos-e2e/pkg/executer"
)

type ProvisionOptions struct {
	GlobalOptions

	Template        string
	OutDir          string
	DeviceID        string
	HardwareVersion string
	Verify          bool

	exec executer.Executer
	out  io.Writer
}

func DefaultProvisionOptions() *ProvisionOptions {
	return &ProvisionOptions{
		GlobalOptions: DefaultGlobalOptions(),
		OutDir:        ".",
		out:           os.Stdout,
	}
}

func NewCmdProvision() *cobra.Command {
	o := DefaultProvisionOptions()
	cmd := &cobra.Command{
		Use:   "provision --template IMAGE.wic [--out DIR]",
		Short: "Copy a device image and bake a device identity into the copy.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			ctx, cancel := o.WithTimeout(cmd.Context())
			defer cancel()
			return o.Run(ctx, args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *ProvisionOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Template, "template", "t", o.Template, "Template image. Defaults to image.templatePath from the config.")
	fs.StringVar(&o.OutDir, "out", o.OutDir, "Directory the provisioned copy is written to.")
	fs.StringVar(&o.DeviceID, "device-id", o.DeviceID, "Device id to bake in. A random one is generated when empty.")
	fs.StringVar(&o.HardwareVersion, "hardware-version", o.HardwareVersion, "Hardware version to bake in. Defaults to device.hardwareVersion from the config.")
	fs.BoolVar(&o.Verify, "verify", o.Verify, "Read the identity back from the copy and compare it.")
}

func (o *ProvisionOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if cmd != nil {
		o.out = cmd.OutOrStdout()
	}
	return nil
}

func (o *ProvisionOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if o.OutDir == "" {
		return fmt.Errorf("--out must not be empty")
	}
	return nil
}

// config only needs the image and device sections, so the service part is
// not validated here.
func (o *ProvisionOptions) config() (*config.Config, error) {
	var cfg *config.Config
	if o.ConfigFilePath != "" {
		c, err := config.Load(o.ConfigFilePath)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.NewDefault()
	}
	cfg.ApplyEnvOverrides()
	if o.Template != "" {
		cfg.Image.TemplatePath = o.Template
	}
	if o.HardwareVersion != "" {
		cfg.Device.HardwareVersion = o.HardwareVersion
	}
	if cfg.Image.TemplatePath == "" {
		return nil, config.ErrMissingTemplate
	}
	return cfg, nil
}

func (o *ProvisionOptions) Run(ctx context.Context, args []string) error {
	cfg, err := o.config()
	if err != nil {
		return err
	}
	log := o.Logger(cfg)

	id := identity.New(cfg.Device.HardwareVersion)
	if o.DeviceID != "" {
		id.DeviceID = o.DeviceID
	}
	exec := o.exec
	if exec == nil {
		exec = executer.NewCommonExecuter(executer.WithLogger(log))
	}

	p := provision.NewFromConfig(cfg, exec, log)
	img, err := p.Provision(ctx, cfg.Image.TemplatePath, o.OutDir, id)
	if err != nil {
		return err
	}
	if o.Verify {
		dir, err := os.MkdirTemp("", appName+"-verify-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		if err := p.Verify(ctx, img, dir); err != nil {
			return err
		}
	}

	fmt.Fprintf(o.out, "%s=%s\n", identity.DeviceIDKey, id.DeviceID)
	fmt.Fprintf(o.out, "%s=%s\n", identity.HardwareVersionKey, id.HardwareVersion)
	fmt.Fprintf(o.out, "IMAGE=%s\n", img.Path)
	return nil
}
