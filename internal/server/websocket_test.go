package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cardtable/cardtable-server-go/internal/config"
	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/room"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var testWSConfig = config.WebSocketConfig{
	PingInterval: time.Second,
	WriteTimeout: time.Second,
	SendBuffer:   16,
	MaxMessage:   64 * 1024,
}

// newWSServer logs nowhere: socket goroutines outlive the test that
// started them.
func newWSServer(t *testing.T, m *room.Manager) (*Hub, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()
	hub := NewHub(m, testWSConfig, logger)
	srv := httptest.NewServer(NewRouter(m, hub, logger))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, code, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + code + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips frames until one of the wanted type arrives
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)
		var msg WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestWebSocketRefusesUnknownSeat(t *testing.T) {
	m := newTestManager(t)
	_, srv := newWSServer(t, m)
	host, _ := seatTwo(t, m)

	tests := []struct {
		name   string
		code   string
		token  string
		reason string
	}{
		{"unknown room", "ZZZZZZ", host.Token, "Game not found"},
		{"bad token", host.RoomCode, "garbage", "Unknown player"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, srv, tt.code, tt.token)
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, _, err := conn.ReadMessage()
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
			assert.Equal(t, tt.reason, closeErr.Text)
		})
	}
}

func TestWebSocketSession(t *testing.T) {
	m := newTestManager(t)
	hub, srv := newWSServer(t, m)
	host, guest := seatTwo(t, m)

	hostConn := dial(t, srv, strings.ToLower(host.RoomCode), host.Token)
	first := readUntil(t, hostConn, room.MsgGameState)
	require.NotNil(t, first.State)
	assert.Equal(t, host.PlayerID, first.State.ViewerID)

	guestConn := dial(t, srv, host.RoomCode, guest.Token)
	joined := readUntil(t, hostConn, room.MsgPlayerConnected)
	assert.Equal(t, guest.PlayerID, joined.PlayerID)
	readUntil(t, guestConn, room.MsgGameState)
	assert.Equal(t, 2, hub.ConnectionCount(host.RoomCode))

	send(t, hostConn, WSMessage{Type: MsgPing})
	readUntil(t, hostConn, room.MsgPong)

	send(t, guestConn, WSMessage{Type: MsgStartGame})
	denied := readUntil(t, guestConn, room.MsgError)
	assert.Equal(t, "Only the host can start the game", denied.Detail)

	send(t, hostConn, WSMessage{Type: MsgStartGame})
	started := readUntil(t, guestConn, room.MsgGameState)
	assert.Equal(t, game.PhasePlaying, started.State.Phase)
	for _, p := range started.State.Players {
		if p.ID == host.PlayerID {
			assert.Equal(t, "hidden", p.Hand[0].Type, "the host's hand is masked for the guest")
		}
	}

	send(t, guestConn, map[string]any{"type": MsgAction, "data": map[string]any{"type": game.ActionDrawCard}})
	rejected := readUntil(t, guestConn, room.MsgError)
	assert.Equal(t, "Not your turn", rejected.Detail)
	require.NotNil(t, rejected.Result)
	assert.False(t, rejected.Result.Success)

	send(t, hostConn, map[string]any{"type": MsgAction, "data": map[string]any{"type": game.ActionDrawCard, "playerId": guest.PlayerID}})
	moved := readUntil(t, guestConn, room.MsgGameState)
	assert.Equal(t, guest.PlayerID, moved.State.CurrentPlayerID, "the action runs as the socket's seat")

	send(t, hostConn, WSMessage{Type: "dance"})
	assert.Equal(t, "Unsupported event type.", readUntil(t, hostConn, room.MsgError).Detail)
	require.NoError(t, hostConn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "Malformed message", readUntil(t, hostConn, room.MsgError).Detail)

	require.NoError(t, guestConn.Close())
	left := readUntil(t, hostConn, room.MsgPlayerDisconnected)
	assert.Equal(t, guest.PlayerID, left.PlayerID)
	require.Eventually(t, func() bool { return hub.ConnectionCount(host.RoomCode) == 1 }, time.Second, 10*time.Millisecond)

	view, err := m.State(host.RoomCode, host.PlayerID)
	require.NoError(t, err)
	for _, p := range view.Players {
		assert.Equal(t, p.ID == host.PlayerID, p.IsConnected)
	}
}

func TestWebSocketRoomClosed(t *testing.T) {
	m := newTestManager(t)
	hub, srv := newWSServer(t, m)
	host, _ := seatTwo(t, m)

	conn := dial(t, srv, host.RoomCode, host.Token)
	readUntil(t, conn, room.MsgGameState)

	require.NoError(t, m.DeleteRoom(context.Background(), host.RoomCode, host.PlayerID))
	readUntil(t, conn, room.MsgRoomClosed)

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Zero(t, hub.ConnectionCount(host.RoomCode))
}

func TestPublishDropsSlowClient(t *testing.T) {
	m := newTestManager(t)
	hub := NewHub(m, config.WebSocketConfig{SendBuffer: 1}, zaptest.NewLogger(t))

	slow := &Client{hub: hub, send: make(chan []byte, 1), roomCode: "ROOM01", playerID: "p1"}
	fast := &Client{hub: hub, send: make(chan []byte, 8), roomCode: "ROOM01", playerID: "p2"}
	hub.register(slow)
	hub.register(fast)

	hub.Publish(room.Update{Type: room.MsgPlayerConnected, RoomCode: "ROOM01", PlayerID: "p2"})
	hub.Publish(room.Update{Type: room.MsgPlayerConnected, RoomCode: "ROOM01", PlayerID: "p2"})

	assert.Equal(t, 1, hub.ConnectionCount("ROOM01"))
	assert.Len(t, fast.send, 2)

	_, ok := <-slow.send
	assert.True(t, ok, "the queued message is still delivered")
	_, ok = <-slow.send
	assert.False(t, ok, "the slow client's queue is closed")
}

func TestPublishMasksPerSeat(t *testing.T) {
	m := newTestManager(t)
	hub := NewHub(m, testWSConfig, zaptest.NewLogger(t))

	a := &Client{hub: hub, send: make(chan []byte, 4), roomCode: "ROOM01", playerID: "p1"}
	b := &Client{hub: hub, send: make(chan []byte, 4), roomCode: "ROOM01", playerID: "p2"}
	spectator := &Client{hub: hub, send: make(chan []byte, 4), roomCode: "ROOM01", playerID: "p3"}
	hub.register(a)
	hub.register(b)
	hub.register(spectator)

	hub.Publish(room.Update{Type: room.MsgGameState, RoomCode: "ROOM01", Views: map[string]*game.StateView{
		"p1": {ViewerID: "p1"},
		"p2": {ViewerID: "p2"},
	}})

	for _, c := range []*Client{a, b} {
		require.Len(t, c.send, 1)
		var msg WSMessage
		require.NoError(t, json.Unmarshal(<-c.send, &msg))
		assert.Equal(t, c.playerID, msg.State.ViewerID)
	}
	assert.Empty(t, spectator.send, "a seat without a view gets nothing")

	replacement := &Client{hub: hub, send: make(chan []byte, 4), roomCode: "ROOM01", playerID: "p1"}
	hub.register(replacement)
	_, ok := <-a.send
	assert.False(t, ok, "a second socket for the seat replaces the first")
	assert.False(t, hub.unregister(a))
	assert.True(t, hub.unregister(replacement))
}
