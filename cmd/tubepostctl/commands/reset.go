package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCommand(connect EnvFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Args:  cobra.NoArgs,
		Short: "Clear the current post and return to idle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, connect, func(ctx context.Context, env *Env) error {
				taskID, err := env.Sender.Reset(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued reset %s\n", taskID)
				return nil
			})
		},
	}
}
