// Package log implements a distribution sink that writes deliveries to
// the structured log. It is the default sink.
package log

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/feed"
)

// Sink logs each delivery, one line per category group.
type Sink struct {
	logger *zap.Logger
}

// New builds a log sink.
func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger}
}

// Deliver writes the delivery to the log. It never fails.
func (s *Sink) Deliver(_ context.Context, delivery feed.Delivery) error {
	categories := make([]string, 0, len(delivery.Groups))
	for category := range delivery.Groups {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		group := delivery.Groups[category]
		ids := make([]string, len(group))
		for i, item := range group {
			ids[i] = item.ID
		}
		s.logger.Info("news delivery",
			zap.String("run_id", delivery.RunID),
			zap.String("category", category),
			zap.Int("count", len(group)),
			zap.Strings("item_ids", ids),
		)
	}
	return nil
}
