package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	first := &Client{hub: hub, send: make(chan []byte, sendBuffer)}
	second := &Client{hub: hub, send: make(chan []byte, sendBuffer)}
	hub.register <- first
	hub.register <- second

	hub.Publish("created", "product", 7)

	for _, client := range []*Client{first, second} {
		select {
		case raw := <-client.send:
			var evt Event
			require.NoError(t, json.Unmarshal(raw, &evt))
			require.Equal(t, "change", evt.Type)
			require.Equal(t, "created", evt.Action)
			require.Equal(t, "product", evt.Entity)
			require.Equal(t, int64(7), evt.ID)
			require.False(t, evt.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("client did not receive the event")
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// Unbuffered send channel with no reader: the first fan-out drops it.
	slow := &Client{hub: hub, send: make(chan []byte)}
	healthy := &Client{hub: hub, send: make(chan []byte, sendBuffer)}
	hub.register <- slow
	hub.register <- healthy

	hub.Publish("updated", "product", 1)
	hub.Publish("updated", "product", 2)

	received := 0
	deadline := time.After(time.Second)
	for received < 2 {
		select {
		case <-healthy.send:
			received++
		case <-deadline:
			t.Fatal("healthy client starved by slow client")
		}
	}

	// The dropped client's channel is closed by the hub.
	select {
	case _, ok := <-slow.send:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("slow client channel was not closed")
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := &Client{hub: hub, send: make(chan []byte, sendBuffer)}
	hub.register <- client
	cancel()

	select {
	case _, ok := <-client.send:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("client channel was not closed on shutdown")
	}
}
