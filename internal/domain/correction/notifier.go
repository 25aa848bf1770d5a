package correction

import (
	"context"

	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/pkg/logger"
)

// Notifier tells downstream consumers about correction status changes.
type Notifier interface {
	Notify(ctx context.Context, c model.Correction)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a notifier on the named "notify" logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.Named("notify")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, c model.Correction) {
	n.log.Info(ctx, "correction status changed",
		logger.String("correction_id", c.CorrectionID),
		logger.String("match_id", c.MatchID),
		logger.String("status", string(c.Status)))
}

// Notifiers fans a notification out to several notifiers.
type Notifiers []Notifier

// Notify implements Notifier.
func (ns Notifiers) Notify(ctx context.Context, c model.Correction) {
	for _, n := range ns {
		n.Notify(ctx, c)
	}
}
