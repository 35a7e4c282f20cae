package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/ticos/ticos-e2e/internal/api/client"
	"github.com/ticos/ticos-e2e/internal/cli/display"
	cfgclient "github.com/ticos/ticos-e2e/internal/client"
)

var (
	legalOutputTypes = []string{jsonFormat, yamlFormat}
	validKinds       = []string{display.RebootsKind, display.ReportsKind, display.CoredumpsKind, display.AttributesKind}
)

type GetOptions struct {
	GlobalOptions

	Device  string
	Output  string
	PerPage int

	out io.Writer
}

func DefaultGetOptions() *GetOptions {
	return &GetOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Output:        "",
		PerPage:       0,
		out:           os.Stdout,
	}
}

func NewCmdGet() *cobra.Command {
	o := DefaultGetOptions()
	cmd := &cobra.Command{
		Use:       "get (" + strings.Join(validKinds, " | ") + ")",
		Short:     "Display what the Ticos backend received from a device.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: validKinds,
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

func (o *GetOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Device, "device", "d", o.Device, "Device serial (the TICOS_DEVICE_ID baked into the image).")
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s). Default: table", strings.Join(legalOutputTypes, ", ")))
	fs.IntVar(&o.PerPage, "per-page", o.PerPage, "Number of entries per page (0 - backend default).")
}

func (o *GetOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if cmd != nil {
		o.out = cmd.OutOrStdout()
	}
	return nil
}

func (o *GetOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	kind := args[0]
	if !slices.Contains(validKinds, kind) {
		return fmt.Errorf("invalid resource kind %q, must be one of (%s)", kind, strings.Join(validKinds, ", "))
	}
	if o.Device == "" && kind != display.ReportsKind {
		return fmt.Errorf("--device is required for %s", kind)
	}
	if len(o.Output) > 0 && !slices.Contains(legalOutputTypes, o.Output) {
		return fmt.Errorf("output format must be one of (%s)", strings.Join(legalOutputTypes, ", "))
	}
	if o.PerPage < 0 {
		return fmt.Errorf("per-page must not be negative")
	}
	return nil
}

func (o *GetOptions) Run(ctx context.Context, args []string) error {
	cfg, err := o.Config()
	if err != nil {
		return err
	}
	c, err := cfgclient.NewFromConfig(cfg, o.Logger(cfg))
	if err != nil {
		return err
	}

	kind := args[0]
	data, err := o.list(ctx, c, kind)
	if err != nil {
		return fmt.Errorf("listing %s: %w", kind, err)
	}
	return display.NewFormatter(display.OutputFormat(o.Output)).Format(data, display.FormatOptions{Kind: kind, Writer: o.out})
}

func (o *GetOptions) list(ctx context.Context, c *client.Client, kind string) (any, error) {
	var perPage *int
	if o.PerPage > 0 {
		perPage = lo.ToPtr(o.PerPage)
	}
	switch kind {
	case display.RebootsKind:
		return c.ListRebootEvents(ctx, o.Device, &client.ListRebootEventsParams{PerPage: perPage})
	case display.ReportsKind:
		params := &client.ListReportsParams{PerPage: perPage}
		if o.Device != "" {
			params.DeviceSerial = lo.ToPtr(o.Device)
		}
		return c.ListReports(ctx, params)
	case display.CoredumpsKind:
		return c.ListElfCoredumps(ctx, &client.ListElfCoredumpsParams{Device: lo.ToPtr(o.Device), PerPage: perPage})
	case display.AttributesKind:
		attrs, err := c.ListAttributes(ctx, o.Device, &client.ListAttributesParams{PerPage: perPage})
		if err != nil {
			return nil, err
		}
		return client.DecodeAttributes(attrs), nil
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}
}
