// Package repository holds the in-memory season standings index.
package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/okian/matchday/internal/domain/projection"
)

// Store is the standings index used by the projection builder.
type Store interface {
	projection.Standings
	// Seasons lists every season with at least one ranked player.
	Seasons(ctx context.Context) []string
	// Remove drops a player from a season table.
	Remove(ctx context.Context, seasonID, playerID string) error
}

var _ Store = (*TreapStore)(nil)

// record is the indexed total of one player.
type record struct {
	total decimal.Decimal
}
