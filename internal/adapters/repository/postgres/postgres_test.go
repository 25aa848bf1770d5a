package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/model"
)

// Runs against a real server only when MATCHDAY_TEST_POSTGRES_DSN is set.
func testLedger(t *testing.T) *Ledger {
	t.Helper()
	dsn := os.Getenv("MATCHDAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MATCHDAY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn, 4)
	require.NoError(t, err)
	l, err := NewLedger(ctx, pool)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestLedger_AppendReadVerify(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	matchID := "pg-" + uuid.NewString()

	entries, err := ledger.SealAll(nil, []ledger.Entry{
		{MatchID: matchID, Kind: ledger.KindSchedule, Schedule: &model.MatchInfo{MatchID: matchID, SportID: "football", RulesetVersion: 1}},
		{MatchID: matchID, Kind: ledger.KindReview, Review: &ledger.Review{Reason: "correction:c1", Active: true}},
	})
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, matchID, entries...))

	got, err := l.Read(ctx, matchID, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	bad, err := ledger.Verify(got)
	require.NoError(t, err)
	assert.Equal(t, -1, bad)

	head, err := l.Head(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, entries[1].Hash, head.Hash)

	err = l.Append(ctx, matchID, entries[1])
	assert.True(t, errors.Is(err, ledger.ErrOutOfSequence), "got %v", err)

	one, err := l.Read(ctx, matchID, 2, 2)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, ledger.KindReview, one[0].Kind)

	matches, err := l.Matches(ctx)
	require.NoError(t, err)
	assert.Contains(t, matches, matchID)
}

func TestConnect_BadDSN(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://%zz", 1)
	assert.Error(t, err)
}
