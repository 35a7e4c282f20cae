package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/ticos/ticos-e2e/internal/cli/display"
	cfgclient "github.com/ticos/ticos-e2e/internal/client"
	"github.com/ticos/ticos-e2e/internal/servicetester"
)

var waitKinds = []string{display.RebootsKind, display.ReportsKind, display.CoredumpsKind}

type WaitOptions struct {
	GlobalOptions

	Device   string
	Count    int
	Timeout  time.Duration
	Interval time.Duration
	Output   string

	out io.Writer
}

func DefaultWaitOptions() *WaitOptions {
	return &WaitOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Count:         1,
		Timeout:       60 * time.Second,
		Interval:      servicetester.DefaultInterval,
		out:           os.Stdout,
	}
}

func NewCmdWait() *cobra.Command {
	o := DefaultWaitOptions()
	cmd := &cobra.Command{
		Use:       "wait (" + strings.Join(waitKinds, " | ") + ")",
		Short:     "Wait until the Ticos backend has received at least --count entries from a device.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: waitKinds,
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

func (o *WaitOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Device, "device", "d", o.Device, "Device serial to wait for.")
	fs.IntVar(&o.Count, "count", o.Count, "Minimum number of entries.")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "How long to wait.")
	fs.DurationVar(&o.Interval, "interval", o.Interval, "Time between two queries.")
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format of the entries found. One of: (%s). Default: table", strings.Join(legalOutputTypes, ", ")))
}

func (o *WaitOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if cmd != nil {
		o.out = cmd.OutOrStdout()
	}
	return nil
}

func (o *WaitOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if !slices.Contains(waitKinds, args[0]) {
		return fmt.Errorf("invalid resource kind %q, must be one of (%s)", args[0], strings.Join(waitKinds, ", "))
	}
	if o.Device == "" {
		return fmt.Errorf("--device is required")
	}
	if o.Count < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	if o.Timeout <= 0 || o.Interval <= 0 {
		return fmt.Errorf("timeout and interval must be positive")
	}
	if len(o.Output) > 0 && !slices.Contains(legalOutputTypes, o.Output) {
		return fmt.Errorf("output format must be one of (%s)", strings.Join(legalOutputTypes, ", "))
	}
	return nil
}

func (o *WaitOptions) Run(ctx context.Context, args []string) error {
	cfg, err := o.Config()
	if err != nil {
		return err
	}
	log := o.Logger(cfg)
	c, err := cfgclient.NewFromConfig(cfg, log)
	if err != nil {
		return err
	}
	tester := servicetester.New(c, log, servicetester.WithInterval(o.Interval))

	var data any
	kind := args[0]
	switch kind {
	case display.RebootsKind:
		data, err = tester.PollRebootEventsUntilCount(ctx, o.Count, o.Device, o.Timeout)
	case display.ReportsKind:
		data, err = tester.PollReportsUntilCount(ctx, o.Count, o.Device, o.Timeout)
	case display.CoredumpsKind:
		data, err = tester.PollElfCoredumpsUntilCount(ctx, o.Count, o.Device, o.Timeout)
	}
	if err != nil {
		return err
	}
	return display.NewFormatter(display.OutputFormat(o.Output)).Format(data, display.FormatOptions{Kind: kind, Writer: o.out})
}
