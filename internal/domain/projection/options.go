package projection

import "github.com/okian/matchday/pkg/logger"

// Option configures a Builder.
type Option func(*Builder)

// WithSnapshotStore sets the checkpoint store.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(b *Builder) { b.snaps = s }
}

// WithStandings sets the season standings index.
func WithStandings(s Standings) Option {
	return func(b *Builder) { b.standings = s }
}

// WithPartitions sets the parallelism of RebuildAll.
func WithPartitions(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.partitions = n
		}
	}
}

// WithLogger overrides the named logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}
