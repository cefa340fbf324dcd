package progress

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub("127.0.0.1:0", log.New(io.Discard))
	require.NoError(t, h.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Stop(ctx)
	})
	return h
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+h.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub_BroadcastsNotifications(t *testing.T) {
	h := startHub(t)
	conn := dial(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.Notify(25, "Acquiring lock"))

	ev := readEvent(t, conn)
	assert.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, 25, ev.Percent)
	assert.Equal(t, "Acquiring lock", ev.Message)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestHub_ReplaysLastEventToNewClients(t *testing.T) {
	h := startHub(t)
	h.Finish(errors.New("boom"))

	conn := dial(t, h)
	ev := readEvent(t, conn)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, 100, ev.Percent)
	assert.Equal(t, "boom", ev.Error)
}

func TestHub_RemovesDisconnectedClients(t *testing.T) {
	h := startHub(t)
	conn := dial(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHub_Health(t *testing.T) {
	h := startHub(t)

	resp, err := http.Get("http://" + h.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["clients"])
}

func TestHub_NotifyWithoutClientsNeverBlocks(t *testing.T) {
	h := NewHub("127.0.0.1:0", log.New(io.Discard))
	for i := 0; i < 500; i++ {
		require.NoError(t, h.Notify(i%100, "tick"))
	}
	h.Finish(nil)
	assert.Equal(t, EventResult, h.last.Type)
}

func TestHub_ReplayPrecedesLaterEvents(t *testing.T) {
	h := startHub(t)
	require.NoError(t, h.Notify(2, "Downloading..."))
	require.NoError(t, h.Notify(20, "Uploading..."))

	conn := dial(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, h.Notify(90, "Removing sync lock"))

	assert.Equal(t, 20, readEvent(t, conn).Percent)
	assert.Equal(t, 90, readEvent(t, conn).Percent)
}

func TestHub_StopWaitsForClients(t *testing.T) {
	h := NewHub("127.0.0.1:0", log.New(io.Discard))
	require.NoError(t, h.Start())
	dial(t, h)
	dial(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))
	assert.Equal(t, 0, h.ClientCount())
}
