package streamhub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"cellwright/kernelsession"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestBroadcastDeliversChunkToConnectedClient(t *testing.T) {
	hub := New(nil)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(Chunk{Cell: 2, Stream: "stdout", Text: "hello"})

	var got Chunk
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, Chunk{Cell: 2, Stream: "stdout", Text: "hello"}, got)
}

func TestBroadcastReachesMultipleClients(t *testing.T) {
	hub := New(nil)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	a := dial(t, server)
	defer a.Close()
	b := dial(t, server)
	defer b.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(Chunk{Cell: 0, Stream: "stdout", Text: "tick"})

	var gotA, gotB Chunk
	require.NoError(t, a.ReadJSON(&gotA))
	require.NoError(t, b.ReadJSON(&gotB))
	require.Equal(t, gotA, gotB)
}

func TestClientDisconnectIsDeregistered(t *testing.T) {
	hub := New(nil)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestOnChunkTagsCellIndex(t *testing.T) {
	hub := New(nil)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	onChunk := hub.OnChunk(5)
	onChunk(kernelsession.StreamChunk{Stream: "stdout", Text: "x"})

	var got Chunk
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, 5, got.Cell)
	require.Equal(t, "x", got.Text)
}
