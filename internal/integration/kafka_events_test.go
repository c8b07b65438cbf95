//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/stratuscast/gridgen/internal/adapter/kafka"
	"github.com/stratuscast/gridgen/internal/artifact"
	"github.com/stratuscast/gridgen/internal/config"
)

const testSinkTopic = "test-generated-artifacts"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka launches a single-broker Kafka container and returns its
// bootstrap address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("gridgen-test"),
	)
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "resolve kafka brokers")
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// TestArtifactEventRoundTrip publishes artifact events through the
// adapter and verifies a consumer sees them in order with key and
// headers intact.
func TestArtifactEventRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	cfg := &config.Config{
		KafkaBrokers:   []string{broker},
		KafkaSinkTopic: testSinkTopic,
	}

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	run := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	published := []artifact.Event{
		{
			Model:        "gfs",
			RunTime:      run,
			ForecastHour: 6,
			Variable:     "precip_total",
			Path:         "/data/artifacts/gfs_20260102_12z_precip_total_f006.json",
			GeneratedAt:  time.Now().UTC().Truncate(time.Second),
		},
		{
			Model:        "gfs",
			RunTime:      run,
			ForecastHour: 6,
			Variable:     "snow_total",
			Path:         "/data/artifacts/gfs_20260102_12z_snow_total_f006.json",
			GeneratedAt:  time.Now().UTC().Truncate(time.Second),
		},
		{
			Model:        "gfs",
			RunTime:      run,
			ForecastHour: 12,
			Variable:     "precip_total",
			Path:         "/data/artifacts/gfs_20260102_12z_precip_total_f012.json",
			GeneratedAt:  time.Now().UTC().Truncate(time.Second),
		},
	}
	for _, ev := range published {
		require.NoError(t, writer.PublishArtifact(ctx, ev))
	}

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	for i, want := range published {
		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := consumer.ReadMessage(readCtx)
		readCancel()
		require.NoError(t, err, "read event %d from sink topic", i)

		assert.Equal(t, "gfs-2026010212", string(msg.Key),
			"events of one run share a partition key")

		var got artifact.Event
		require.NoError(t, json.Unmarshal(msg.Value, &got))
		assert.Equal(t, want, got, "events arrive in publish order")

		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, want.Model, headers["model"])
		assert.Equal(t, want.Variable, headers["variable"])
		_, err = time.Parse(time.RFC3339, headers["generated_at"])
		assert.NoError(t, err, "generated_at header is RFC3339")
	}
}
