// Package kafka forwards stored measurements to a downstream topic for
// dashboard and notification consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/breathsafe/airquality-core/internal/config"
	"github.com/breathsafe/airquality-core/internal/domain"
)

// Writer produces measurement messages to a Kafka topic. It implements
// ingest.MeasurementPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured measurement topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishBatch serializes and publishes measurements in a single
// WriteMessages call. Messages are keyed by (city, date) so a re-ingested
// reading compacts onto its predecessor.
func (w *Writer) PublishBatch(ctx context.Context, measurements []domain.Measurement) error {
	if len(measurements) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(measurements))
	for i := range measurements {
		msg, err := serializeToMessage(measurements[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func serializeToMessage(m domain.Measurement) (kafkago.Message, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize measurement: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(m.City + "|" + m.DateKey()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "city", Value: []byte(m.City)},
			{Key: "observed_date", Value: []byte(m.DateKey())},
		},
	}, nil
}
