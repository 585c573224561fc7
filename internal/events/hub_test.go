package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelchain/internal/logging"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt Event
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func waitForConnections(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ConnectionCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestHubReplaysBacklogThenStreams(t *testing.T) {
	bus := NewBus(10)
	hub := NewHub(bus, logging.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	bus.Publish(Event{Type: JobCreated, JobID: "a"})
	bus.Publish(Event{Type: StageSubmitted, JobID: "a"})

	conn := dial(t, srv, "since=1")
	first := readEvent(t, conn)
	assert.Equal(t, uint64(2), first.Sequence)
	assert.Equal(t, StageSubmitted, first.Type)

	waitForConnections(t, hub, 1)
	bus.Publish(Event{Type: StagePolling, JobID: "a"})
	live := readEvent(t, conn)
	assert.Equal(t, uint64(3), live.Sequence)
	assert.Equal(t, StagePolling, live.Type)
}

func TestHubFiltersByJob(t *testing.T) {
	bus := NewBus(10)
	hub := NewHub(bus, logging.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "job_id=b")
	waitForConnections(t, hub, 1)

	bus.Publish(Event{Type: JobCreated, JobID: "a"})
	bus.Publish(Event{Type: JobCreated, JobID: "b"})

	evt := readEvent(t, conn)
	assert.Equal(t, "b", evt.JobID)
}

func TestHubDropsClosedClients(t *testing.T) {
	bus := NewBus(10)
	hub := NewHub(bus, logging.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitForConnections(t, hub, 1)
	require.NoError(t, conn.Close())
	waitForConnections(t, hub, 0)

	hub.Close()
	assert.Equal(t, 0, hub.ConnectionCount())
}
