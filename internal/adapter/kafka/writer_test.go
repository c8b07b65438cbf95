package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratuscast/gridgen/internal/artifact"
)

func sampleEvent() artifact.Event {
	return artifact.Event{
		Model:        "gfs",
		RunTime:      time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC),
		ForecastHour: 6,
		Variable:     "precip_total",
		Path:         "/data/artifacts/gfs_20260102_12z_precip_total_f006.json",
		GeneratedAt:  time.Date(2026, 1, 2, 16, 4, 30, 0, time.UTC),
	}
}

func TestSerializeEvent(t *testing.T) {
	msg, err := serializeEvent(sampleEvent())
	require.NoError(t, err)

	t.Run("key groups by model run", func(t *testing.T) {
		assert.Equal(t, "gfs-2026010212", string(msg.Key))
	})

	t.Run("value round trips", func(t *testing.T) {
		var ev artifact.Event
		require.NoError(t, json.Unmarshal(msg.Value, &ev))
		assert.Equal(t, sampleEvent(), ev)
	})

	t.Run("headers carry routing metadata", func(t *testing.T) {
		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, "gfs", headers["model"])
		assert.Equal(t, "precip_total", headers["variable"])
		assert.Equal(t, "2026-01-02T16:04:30Z", headers["generated_at"])
	})
}

func TestSerializeEventSameRunSharesKey(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()
	b.Variable = "snow_total"
	b.ForecastHour = 12

	ma, err := serializeEvent(a)
	require.NoError(t, err)
	mb, err := serializeEvent(b)
	require.NoError(t, err)

	assert.Equal(t, ma.Key, mb.Key, "all artifacts of one run land on one partition")
}
