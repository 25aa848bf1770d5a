package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/projection"
)

// NewProjectionCommand creates the projection command.
func NewProjectionCommand(root *RootOptions) *cobra.Command {
	var asOf int64

	cmd := &cobra.Command{
		Use:   "projection <match-id>",
		Short: "Fold a match ledger into its projection",
		Long: `Fold the stored ledger of a match from genesis and print the resulting
player totals. --as-of stops the fold at a ledger version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if asOf < 0 {
				return NewExitError(ExitCommandError, "--as-of must not be negative")
			}
			db, err := root.open()
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := projection.NewBuilder(db.Ledger()).Match(cmd.Context(), args[0], asOf)
			var rf *model.ProjectionRebuildFailure
			switch {
			case errors.As(err, &rf) && p != nil:
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: ledger verification failed at seq %d, serving version %d\n",
					rf.FailedAt, rf.ServedAsOf)
			case errors.Is(err, model.ErrNotFound):
				return WrapExitError(ExitCommandError, fmt.Sprintf("match %s not found", args[0]), err)
			case err != nil:
				return WrapExitError(ExitFailure, "failed to fold ledger", err)
			}

			if root.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			printProjection(cmd, p)
			if p.Stale {
				return NewExitError(ExitFailure, "projection is stale")
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&asOf, "as-of", 0, "ledger version to stop at (0 for head)")
	return cmd
}

func printProjection(cmd *cobra.Command, p *projection.MatchProjection) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "match %s (%s) state=%s version=%d ruleset=%d\n",
		p.MatchID, p.SportID, p.State, p.LedgerVersion, p.RulesetVersion)
	ids := make([]string, 0, len(p.Players))
	for id := range p.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  %s\t%s\n", id, p.Players[id].Total.String())
	}
}
