package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tubepost/api/internal/model"
	"github.com/tubepost/api/internal/observer"
)

func newStatusCommand(connect EnvFactory) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Args:  cobra.NoArgs,
		Short: "Print the current job state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, connect, func(ctx context.Context, env *Env) error {
				state, err := env.Store.Read(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(state)
				}
				printSnapshot(cmd.OutOrStdout(), observer.Snapshot{
					State:        state,
					Status:       state.Status,
					Artifact:     state.Content,
					ErrorMessage: state.ErrorMessage(),
				})
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw record")
	return cmd
}

func printSnapshot(w io.Writer, s observer.Snapshot) {
	fmt.Fprintf(w, "status: %s\n", s.Status)
	if s.State.URL != "" {
		fmt.Fprintf(w, "url:    %s\n", s.State.URL)
	}
	switch s.Status {
	case model.JobStatusComplete:
		if s.Artifact != nil {
			fmt.Fprintf(w, "title:  %s\n", s.Artifact.Title)
			if s.Artifact.SummaryForCard != "" {
				fmt.Fprintf(w, "summary: %s\n", s.Artifact.SummaryForCard)
			}
		}
	case model.JobStatusFailed:
		fmt.Fprintf(w, "error:  %s\n", s.ErrorMessage)
	}
}
