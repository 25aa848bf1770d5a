package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/matchday/internal/adapters/repository/sqlite"
	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/resolver"
	"github.com/okian/matchday/internal/domain/scoring"
)

var rulesDir = filepath.Join("..", "..", "rules")

var kickoff = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

// seed writes a football match with two goals by p1 and one audit record.
func seed(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "matchday.db")
	db, err := sqlite.Open(path)
	require.NoError(t, err)
	defer db.Close()

	reg := scoring.NewRegistry()
	require.NoError(t, scoring.NewLoader(rulesDir, reg).LoadAll(ctx))
	r := resolver.New(db.Ledger(), reg)
	require.NoError(t, r.Schedule(ctx, model.MatchInfo{MatchID: "m1", SportID: "football", SeasonID: "s1", RulesetVersion: 1}))
	for i, minute := range []int{10, 30} {
		_, err := r.Accept(ctx, model.CanonicalEvent{
			EventID: []string{"e1", "e2"}[i], MatchID: "m1", PlayerID: "p1", SportID: "football", EventType: "GOAL",
			Timestamp: kickoff.Add(time.Duration(minute) * time.Minute), Minute: minute, ProviderID: "opta",
		})
		require.NoError(t, err)
	}
	_, err = db.AuditLog().Append(ctx, audit.Record{
		Kind: audit.KindCorrection, MatchID: "m1", Subject: "c1", Action: audit.ActionSubmitted, Reason: "VAR_OVERTURNED",
	})
	require.NoError(t, err)
	return path
}

func run(args ...string) (string, string, error) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := run("replay", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMissingDatabase(t *testing.T) {
	_, _, err := run("replay", "--db", filepath.Join(t.TempDir(), "nope.db"), "--rules", rulesDir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestReplay(t *testing.T) {
	path := seed(t)

	out, _, err := run("replay", "--db", path, "--rules", rulesDir)
	require.NoError(t, err)
	assert.Contains(t, out, "m1")
	assert.Contains(t, out, "OK")

	out, _, err = run("replay", "m1", "--db", path, "--rules", rulesDir, "--format", "json")
	require.NoError(t, err)
	var result ReplayResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.AllIdentical)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, 2, result.Matches[0].Events)
	assert.Zero(t, result.Matches[0].ChainBreak)
}

func TestReplayDetectsTampering(t *testing.T) {
	path := seed(t)
	db, err := sqlite.Open(path)
	require.NoError(t, err)
	_, err = db.SQL().Exec(`UPDATE ledger_entries SET body = replace(body, '"minute":30', '"minute":31') WHERE match_id = 'm1'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, _, err := run("replay", "--db", path, "--rules", rulesDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "CHAIN BROKEN")
}

func TestAuditExport(t *testing.T) {
	path := seed(t)

	out, _, err := run("audit", "export", "--db", path, "--kind", "correction")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var rec audit.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "c1", rec.Subject)
	assert.Equal(t, "VAR_OVERTURNED", rec.Reason)

	out, _, err = run("audit", "export", "--db", path, "--kind", "tiebreak")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))

	file := filepath.Join(t.TempDir(), "audit.jsonl")
	out, _, err = run("audit", "export", "--db", path, "--out", file)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 1 records")
	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"subject":"c1"`)

	_, _, err = run("audit", "export", "--db", path, "--since", "yesterday")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestProjection(t *testing.T) {
	path := seed(t)

	out, _, err := run("projection", "m1", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "match m1 (football)")
	assert.Contains(t, out, "p1\t20")

	out, _, err = run("projection", "m1", "--db", path, "--as-of", "2", "--format", "json")
	require.NoError(t, err)
	var p struct {
		LedgerVersion int64 `json:"ledger_version"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, int64(2), p.LedgerVersion)

	_, _, err = run("projection", "nope", "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = run("projection", "--db", path)
	require.Error(t, err)
}
