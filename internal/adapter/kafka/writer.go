// Package kafka publishes artifact-generation events to a sink topic
// so downstream consumers (tile pipelines, caches, notification
// services) learn about new products without polling the artifact
// store.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/stratuscast/gridgen/internal/artifact"
	"github.com/stratuscast/gridgen/internal/config"
)

// Writer produces artifact events to the configured sink topic.
// It implements scheduler.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishArtifact serializes and publishes one artifact event. The key
// groups all artifacts of the same model run onto one partition so
// consumers see a run's products in order.
func (w *Writer) PublishArtifact(ctx context.Context, ev artifact.Event) error {
	msg, err := serializeEvent(ev)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeEvent marshals an artifact event into a Kafka message.
func serializeEvent(ev artifact.Event) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize artifact event: %w", err)
	}
	key := fmt.Sprintf("%s-%s", ev.Model, ev.RunTime.UTC().Format("2006010215"))
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "model", Value: []byte(ev.Model)},
			{Key: "variable", Value: []byte(ev.Variable)},
			{Key: "generated_at", Value: []byte(ev.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
