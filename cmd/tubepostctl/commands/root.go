package commands

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tubepost/api/internal/command"
	"github.com/tubepost/api/internal/notify"
	"github.com/tubepost/api/internal/store"
)

// Env is what the commands run against
type Env struct {
	Store       store.Store
	Sender      command.Sender
	Indicator   notify.Indicator
	SourceMatch string
	Log         logrus.FieldLogger
}

// EnvFactory connects to the backend. The returned func releases it.
type EnvFactory func(ctx context.Context) (*Env, func(), error)

// NewRootCmd creates the root command
func NewRootCmd(connect EnvFactory) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tubepostctl",
		Short:         "Generate blog posts from videos and follow the job",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newStartCommand(connect),
		newResetCommand(connect),
		newStatusCommand(connect),
		newWatchCommand(connect),
	)

	return rootCmd
}

func withEnv(cmd *cobra.Command, connect EnvFactory, fn func(ctx context.Context, env *Env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, release, err := connect(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, env)
}
