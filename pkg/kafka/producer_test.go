package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lance/pkg/logging"
)

func TestNewRecordSortsHeaders(t *testing.T) {
	record := NewRecord("insight_snapshots", []byte("u-1"), []byte(`{}`), map[string]string{
		"user_id":    "u-1",
		"event_type": "snapshot_created",
	})

	assert.Equal(t, "insight_snapshots", record.Topic)
	assert.Equal(t, []byte("u-1"), record.Key)
	require.Len(t, record.Headers, 2)
	assert.Equal(t, "event_type", record.Headers[0].Key)
	assert.Equal(t, "user_id", record.Headers[1].Key)
	assert.Equal(t, []byte("u-1"), record.Headers[1].Value)
}

func TestNewRecordWithoutHeaders(t *testing.T) {
	record := NewRecord("t", nil, []byte("v"), nil)
	assert.Empty(t, record.Headers)
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(nil, "insights", logging.NewDiscardLogger())
	assert.Error(t, err)
}

func TestNewProducerDoesNotDialEagerly(t *testing.T) {
	p, err := NewProducer([]string{"127.0.0.1:1"}, "insights", logging.NewDiscardLogger())
	require.NoError(t, err)
	p.Close()
}
