// Package pubsub implements a distribution sink backed by Google Cloud
// Pub/Sub, one message per category group.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/feed"
)

// payload is the JSON body published for one category group.
type payload struct {
	RunID    string      `json:"run_id"`
	At       time.Time   `json:"at"`
	Category string      `json:"category"`
	Items    []feed.Item `json:"items"`
}

// Sink publishes deliveries to a Pub/Sub topic.
type Sink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// New connects to Pub/Sub and binds the topic.
func New(ctx context.Context, projectID, topicName string, logger *zap.Logger) (*Sink, error) {
	if projectID == "" || topicName == "" {
		return nil, fmt.Errorf("sink.project_id and sink.topic are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Sink{
		client: client,
		topic:  client.Topic(topicName),
		logger: logger,
	}, nil
}

// Deliver publishes one message per category group. The first publish
// failure aborts the delivery; the pipeline logs and moves on.
func (s *Sink) Deliver(ctx context.Context, delivery feed.Delivery) error {
	for category, group := range delivery.Groups {
		data, err := json.Marshal(payload{
			RunID:    delivery.RunID,
			At:       delivery.At,
			Category: category,
			Items:    group,
		})
		if err != nil {
			return fmt.Errorf("marshal delivery payload: %w", err)
		}

		result := s.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"run_id":   delivery.RunID,
				"category": category,
			},
		})
		id, err := result.Get(ctx)
		if err != nil {
			return fmt.Errorf("publish category %s: %w", category, err)
		}
		s.logger.Debug("published delivery message",
			zap.String("run_id", delivery.RunID),
			zap.String("category", category),
			zap.String("message_id", id),
		)
	}
	return nil
}

// Close flushes the topic and releases the client.
func (s *Sink) Close() error {
	s.topic.Stop()
	return s.client.Close()
}
