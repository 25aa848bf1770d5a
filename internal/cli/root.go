// Package cli implements matchdayctl, the operator tool that inspects a
// SQLite-backed matchday database offline.
package cli

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/okian/matchday/internal/adapters/repository/sqlite"
	"github.com/okian/matchday/internal/domain/scoring"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database string
	RulesDir string
	Format   string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the matchdayctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "matchdayctl",
		Short: "Inspect and verify matchday ledgers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "matchday.db", "path to SQLite database")
	cmd.PersistentFlags().StringVar(&opts.RulesDir, "rules", "rules", "ruleset directory")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewProjectionCommand(opts))

	return cmd
}

// open opens the database named by --db. Missing files are a command error
// rather than a fresh empty database.
func (o *RootOptions) open() (*sqlite.DB, error) {
	if _, err := os.Stat(o.Database); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	db, err := sqlite.Open(o.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return db, nil
}

func (o *RootOptions) rules(ctx context.Context) (*scoring.Registry, error) {
	reg := scoring.NewRegistry()
	if err := scoring.NewLoader(o.RulesDir, reg).LoadAll(ctx); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load rulesets", err)
	}
	return reg, nil
}
