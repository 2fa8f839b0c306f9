package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/regatta-imagery/internal/config"
	"github.com/couchcryptid/regatta-imagery/internal/domain"
)

const batchTimeout = 10 * time.Millisecond

// Writer publishes radar frame updates to a Kafka topic.
// It implements imagery.FramePublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured frame-update topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
		// One update per fetch: flush it immediately instead of waiting
		// for a batch to fill.
		BatchSize:    1,
		BatchTimeout: batchTimeout,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishFrameUpdate writes one update keyed by its cache key, so updates
// for the same query stay ordered within a partition.
func (w *Writer) PublishFrameUpdate(ctx context.Context, update domain.FrameUpdate) error {
	msg, err := serializeToMessage(update)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish frame update: %w", err)
	}
	w.logger.Debug("frame update published", "key", update.CacheKey, "update_id", update.ID)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a FrameUpdate into a Kafka message.
func serializeToMessage(update domain.FrameUpdate) (kafkago.Message, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize frame update: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(update.CacheKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "update_id", Value: []byte(update.ID)},
			{Key: "published_at", Value: []byte(update.PublishedAt.Format(time.RFC3339))},
		},
	}, nil
}
