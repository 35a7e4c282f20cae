package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

var (
	validCompletionArgs = []string{"bash", "zsh", "fish", "PowerShell"}
)

type CompletionOptions struct {
	Shell string
}

func DefaultCompletionOptions() *CompletionOptions {
	return &CompletionOptions{
		Shell: "bash",
	}
}

func NewCmdCompletion() *cobra.Command {
	o := DefaultCompletionOptions()
	cmd := &cobra.Command{
		Use:          "completion [bash|zsh|fish|PowerShell]",
		Short:        "Generate autocompletion script",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		ValidArgs:    validCompletionArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch o.Shell {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			default:
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
		},
	}

	return cmd
}

func (o *CompletionOptions) Complete(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		o.Shell = args[0]
	}
	return nil
}

func (o *CompletionOptions) Validate(args []string) error {
	if !slices.Contains(validCompletionArgs, o.Shell) {
		return fmt.Errorf("autocompletion for shell %v not supported by Cobra", o.Shell)
	}
	return nil
}
