package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	event := &ProjectEvent{
		EventType: "project.phase_changed",
		ProjectID: "p1",
		DatasetID: "d1",
		State:     "CLASSIFICATION",
	}

	msg, err := NewMessage("clover.projects", event)
	require.NoError(t, err)

	assert.Equal(t, "clover.projects", msg.Topic)
	assert.Equal(t, []byte("p1"), msg.Key)
	assert.False(t, event.Timestamp.IsZero())

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{
		"event_type":     "project.phase_changed",
		"project_id":     "p1",
		"schema_version": SchemaVersion,
	}, headers)

	var decoded ProjectEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "CLASSIFICATION", decoded.State)
	assert.Equal(t, "d1", decoded.DatasetID)
}

func TestNewMessageKeepsTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	event := &ProjectEvent{EventType: "project.deleted", ProjectID: "p1", Timestamp: ts}

	_, err := NewMessage("t", event)
	require.NoError(t, err)
	assert.Equal(t, ts, event.Timestamp)
}

func TestCompressionCodec(t *testing.T) {
	tests := []struct {
		name string
		want kafka.Compression
	}{
		{"gzip", kafka.Gzip},
		{"lz4", kafka.Lz4},
		{"zstd", kafka.Zstd},
		{"none", 0},
		{"", kafka.Snappy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compressionCodec(tt.name))
		})
	}
}
