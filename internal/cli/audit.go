package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/matchday/internal/domain/audit"
)

// AuditOptions holds flags for audit export.
type AuditOptions struct {
	*RootOptions
	Kind    string
	MatchID string
	Subject string
	Since   string
	Limit   int
	Output  string
}

// NewAuditCommand creates the audit command group.
func NewAuditCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Work with the audit log",
	}
	cmd.AddCommand(newAuditExportCommand(root))
	return cmd
}

func newAuditExportCommand(root *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit records as JSON lines, oldest first",
		Example: `  matchdayctl audit export --db ./matchday.db --kind correction
  matchdayctl audit export --match m1 --since 2026-03-01T00:00:00Z --out audit.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := audit.Filter{
				Kind:    audit.Kind(opts.Kind),
				MatchID: opts.MatchID,
				Subject: opts.Subject,
				Limit:   opts.Limit,
			}
			if opts.Since != "" {
				since, err := time.Parse(time.RFC3339, opts.Since)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --since", err)
				}
				f.Since = since
			}

			db, err := opts.open()
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.AuditLog().List(cmd.Context(), f)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list audit records", err)
			}

			out := cmd.OutOrStdout()
			if opts.Output != "" {
				file, err := os.Create(opts.Output)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to create output file", err)
				}
				defer file.Close()
				out = file
			}
			if err := exportRecords(out, records); err != nil {
				return err
			}
			if opts.Output != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", len(records), opts.Output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "record kind (quarantine|correction|repin|tiebreak)")
	cmd.Flags().StringVar(&opts.MatchID, "match", "", "match id")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "subject id (correction, quarantine)")
	cmd.Flags().StringVar(&opts.Since, "since", "", "only records at or after this RFC3339 time")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records (0 for all)")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "write to file instead of stdout")

	return cmd
}

func exportRecords(w io.Writer, records []audit.Record) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return WrapExitError(ExitCommandError, "failed to write record", err)
		}
	}
	return nil
}
