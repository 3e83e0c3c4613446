package commands

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/tubepost/api/internal/model"
	"github.com/tubepost/api/internal/observer"
)

func newStartCommand(connect EnvFactory) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "start <url>",
		Args:  cobra.ExactArgs(1),
		Short: "Start generating a post from a video URL",
		Long: `Queue a generation job. The command returns once the job is queued;
use --wait to follow it to the end.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimSpace(args[0])
			if url == "" {
				return fmt.Errorf("url is required")
			}
			return withEnv(cmd, connect, func(ctx context.Context, env *Env) error {
				if !wait {
					taskID, err := env.Sender.StartGeneration(ctx, url)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "queued start %s\n", taskID)
					return nil
				}
				return startAndWait(ctx, cmd, env, url)
			})
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the job to finish and print the result")
	return cmd
}

// startAndWait observes the record before sending, so the outcome cannot be missed
func startAndWait(ctx context.Context, cmd *cobra.Command, env *Env, url string) error {
	obs := observer.New(env.Store, env.Sender, env.Log)

	// OnChange runs on both the activating goroutine and the subscriber's
	var started atomic.Bool
	done := make(chan observer.Snapshot, 1)
	obs.OnChange(func(s observer.Snapshot) {
		switch {
		case s.Status == model.JobStatusRunning && s.State.URL == url:
			started.Store(true)
		case started.Load() && (s.Status.Terminal() || s.Status == model.JobStatusIdle):
			select {
			case done <- s:
			default:
			}
		}
	})

	if err := obs.Activate(ctx); err != nil {
		return err
	}
	defer obs.Deactivate()

	if obs.Snapshot().Status == model.JobStatusRunning {
		return fmt.Errorf("a job is already running for %s", obs.Snapshot().State.URL)
	}

	if _, err := obs.Start(ctx, url); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "generating...")

	select {
	case s := <-done:
		printSnapshot(cmd.OutOrStdout(), s)
		if s.Status == model.JobStatusFailed {
			return fmt.Errorf("generation failed")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
