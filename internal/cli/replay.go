package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/matchday/internal/domain/resolver"
)

// ReplayResult holds the replay outcome for every requested match.
type ReplayResult struct {
	Matches      []resolver.ReplayReport `json:"matches"`
	AllIdentical bool                    `json:"all_identical"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [match-id...]",
		Short: "Verify ledger hash chains and replay determinism",
		Long: `Re-drive each match from its recorded inputs into a scratch resolver and
check that the regenerated ledger is byte-identical to the stored one.
Without arguments every match in the database is replayed.

Exit codes:
  0 - Every ledger verified and replayed identically
  1 - A hash chain is broken or a replay diverged
  2 - Command error (database not found, etc.)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := root.open()
			if err != nil {
				return err
			}
			defer db.Close()
			rules, err := root.rules(ctx)
			if err != nil {
				return err
			}

			store := db.Ledger()
			ids := args
			if len(ids) == 0 {
				if ids, err = store.Matches(ctx); err != nil {
					return WrapExitError(ExitCommandError, "failed to list matches", err)
				}
			}

			r := resolver.New(store, rules)
			result := ReplayResult{Matches: make([]resolver.ReplayReport, 0, len(ids)), AllIdentical: true}
			for _, id := range ids {
				report, err := r.Replay(ctx, id)
				if err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay %s", id), err)
				}
				result.Matches = append(result.Matches, report)
				if !report.Identical {
					result.AllIdentical = false
				}
			}

			if root.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printReplay(cmd, result)
			}
			if !result.AllIdentical {
				return NewExitError(ExitFailure, "replay verification failed")
			}
			return nil
		},
	}
}

func printReplay(cmd *cobra.Command, result ReplayResult) {
	out := cmd.OutOrStdout()
	if len(result.Matches) == 0 {
		fmt.Fprintln(out, "No matches found in database.")
		return
	}
	for _, r := range result.Matches {
		status := "OK"
		switch {
		case r.ChainBreak > 0:
			status = fmt.Sprintf("CHAIN BROKEN at seq %d", r.ChainBreak)
		case r.Divergence > 0:
			status = fmt.Sprintf("DIVERGED at seq %d", r.Divergence)
		case !r.Identical:
			status = "DIVERGED"
		}
		fmt.Fprintf(out, "%s\tentries=%d events=%d head=%s\t%s\n", r.MatchID, r.Entries, r.Events, r.Head, status)
	}
}
