package cli

import (
	"github.com/spf13/cobra"
)

func NewTicosE2ECommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName + " [flags] [options]",
		Short: appName + " provisions ticosd test devices and inspects what they uploaded.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
		SilenceUsage: true,
	}
	cmd.AddCommand(NewCmdProvision())
	cmd.AddCommand(NewCmdGet())
	cmd.AddCommand(NewCmdWait())
	cmd.AddCommand(NewCmdVersion())
	cmd.AddCommand(NewCmdCompletion())
	return cmd
}
