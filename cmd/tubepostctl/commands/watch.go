package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tubepost/api/internal/observer"
)

func newWatchCommand(connect EnvFactory) *cobra.Command {
	var page string

	cmd := &cobra.Command{
		Use:   "watch",
		Args:  cobra.NoArgs,
		Short: "Follow the job state until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, connect, func(ctx context.Context, env *Env) error {
				opts := []observer.Option{
					observer.WithIndicator(env.Indicator),
					observer.WithSourceMatch(env.SourceMatch),
				}
				if page != "" {
					opts = append(opts, observer.WithPageContext(observer.StaticPage(page)))
				}
				obs := observer.New(env.Store, env.Sender, env.Log, opts...)

				var mu sync.Mutex
				out := cmd.OutOrStdout()
				obs.OnChange(func(s observer.Snapshot) {
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintf(out, "--- revision %d\n", s.State.Revision)
					printSnapshot(out, s)
				})

				if err := obs.Activate(ctx); err != nil {
					return err
				}
				defer obs.Deactivate()

				if url := obs.Snapshot().InputURL; url != "" {
					mu.Lock()
					fmt.Fprintf(out, "ready to generate from %s (tubepostctl start %q)\n", url, url)
					mu.Unlock()
				}

				<-ctx.Done()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&page, "page", "", "URL of the page being viewed, offered as input while idle")
	return cmd
}
