package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lance/pkg/logging"
)

type note struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

func TestConnectAndPing(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, Pinger{Client: client}.Ping(context.Background()))

	_, err = Connect(context.Background(), "")
	assert.Error(t, err)
	_, err = Connect(context.Background(), "://bad")
	assert.Error(t, err)
}

func TestTypedPubSubRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	ps := NewTypedPubSub[note](client, logging.NewDiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan note, 1)
	go func() {
		_ = ps.Subscribe(ctx, "insights:*", func(channel string, msg note) {
			if channel == "insights:u-1" {
				got <- msg
			}
		})
	}()

	require.Eventually(t, func() bool {
		n, err := ps.Publish(context.Background(), "insights:u-1", note{UserID: "u-1", Count: 3})
		return err == nil && n > 0
	}, time.Second, 10*time.Millisecond)

	select {
	case msg := <-got:
		assert.Equal(t, note{UserID: "u-1", Count: 3}, msg)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}
