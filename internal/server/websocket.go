package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cardtable/cardtable-server-go/internal/config"
	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/room"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Inbound message types
const (
	MsgAction    = "action"
	MsgStartGame = "start_game"
	MsgPing      = "ping"
)

// WSMessage is the envelope for every frame in both directions
type WSMessage struct {
	Type     string          `json:"type"`
	PlayerID string          `json:"playerId,omitempty"`
	Detail   string          `json:"detail,omitempty"`
	Result   *game.Result    `json:"result,omitempty"`
	State    *game.StateView `json:"state,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Client is one player's socket. A seat has at most one client; a second
// connection for the same seat replaces the first.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	roomCode string
	playerID string
	once     sync.Once
}

// closeSend stops the writer, which then closes the socket
func (c *Client) closeSend() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans room updates out to websocket clients. It implements
// room.Broadcaster.
type Hub struct {
	logger   *zap.Logger
	rooms    *room.Manager
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[string]*Client // room code -> player id -> client
}

// NewHub creates a hub and attaches it to the room manager
func NewHub(rooms *room.Manager, cfg config.WebSocketConfig, logger *zap.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	h := &Hub{
		logger: logger,
		rooms:  rooms,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // seat tokens authenticate, not origins
			},
		},
		clients: make(map[string]map[string]*Client),
	}
	rooms.SetBroadcaster(h)
	return h
}

// Publish delivers an update to the room's clients without blocking. A
// client whose buffer is full is dropped.
func (h *Hub) Publish(u room.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[u.RoomCode]
	if len(clients) == 0 {
		return
	}

	var shared []byte
	if u.Type != room.MsgGameState {
		shared = h.encode(WSMessage{Type: u.Type, PlayerID: u.PlayerID})
	}

	for playerID, c := range clients {
		msg := shared
		if u.Type == room.MsgGameState {
			view, ok := u.Views[playerID]
			if !ok {
				continue
			}
			msg = h.encode(WSMessage{Type: room.MsgGameState, State: view})
		}
		if msg == nil {
			continue
		}
		select {
		case c.send <- msg:
		default:
			if h.logger != nil {
				h.logger.Warn("dropping slow websocket client",
					zap.String("room_code", u.RoomCode),
					zap.String("player_id", playerID),
				)
			}
			delete(clients, playerID)
			c.closeSend()
		}
	}

	if u.Type == room.MsgRoomClosed {
		for _, c := range clients {
			c.closeSend()
		}
		delete(h.clients, u.RoomCode)
		return
	}
	if len(clients) == 0 {
		delete(h.clients, u.RoomCode)
	}
}

func (h *Hub) encode(msg WSMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("failed to encode websocket message", zap.String("type", msg.Type), zap.Error(err))
		}
		return nil
	}
	return data
}

// register adds a client, replacing any earlier socket for the same seat
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[c.roomCode]
	if !ok {
		clients = make(map[string]*Client)
		h.clients[c.roomCode] = clients
	}
	if old, ok := clients[c.playerID]; ok {
		old.closeSend()
	}
	clients[c.playerID] = c
}

// unregister removes the client and reports whether the seat is left
// without a connection. A replaced client leaves its successor in place.
func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[c.roomCode]
	current, ok := clients[c.playerID]
	if ok && current != c {
		return false
	}
	if ok {
		delete(clients, c.playerID)
		if len(clients) == 0 {
			delete(h.clients, c.roomCode)
		}
	}
	c.closeSend()
	return true
}

// ConnectionCount returns the number of live sockets in a room
func (h *Hub) ConnectionCount(code string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[room.NormalizeCode(code)])
}

// ServeWS upgrades GET /ws/:code?token=... A bad room or seat token closes
// the socket with a policy violation.
func (h *Hub) ServeWS(c *gin.Context) {
	code := room.NormalizeCode(c.Param("code"))
	token := c.Query("token")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Debug("websocket upgrade failed", zap.String("room_code", code), zap.Error(err))
		}
		return
	}

	claims, err := h.rooms.VerifySeat(code, token)
	if err != nil {
		reason := "Unknown player"
		if _, lookupErr := h.rooms.State(code, ""); lookupErr != nil {
			reason = "Game not found"
		}
		deadline := time.Now().Add(h.cfg.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
		conn.Close()
		if h.logger != nil {
			h.logger.Info("websocket connection refused", zap.String("room_code", code), zap.Error(err))
		}
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.cfg.SendBuffer),
		roomCode: code,
		playerID: claims.PlayerID,
	}
	h.register(client)
	go client.writePump()

	if err := h.rooms.SetConnected(code, claims.PlayerID, true); err != nil && h.logger != nil {
		h.logger.Warn("failed to mark player connected", zap.String("room_code", code), zap.Error(err))
	}
	if h.logger != nil {
		h.logger.Info("websocket client connected",
			zap.String("room_code", code),
			zap.String("player_id", claims.PlayerID),
		)
	}

	client.readPump()
}

func (c *Client) readPump() {
	h := c.hub
	defer func() {
		live := h.unregister(c)
		c.conn.Close()
		if live {
			if err := h.rooms.SetConnected(c.roomCode, c.playerID, false); err != nil && h.logger != nil {
				h.logger.Debug("failed to mark player disconnected", zap.String("room_code", c.roomCode), zap.Error(err))
			}
		}
		if h.logger != nil {
			h.logger.Info("websocket client disconnected",
				zap.String("room_code", c.roomCode),
				zap.String("player_id", c.playerID),
			)
		}
	}()

	if h.cfg.MaxMessage > 0 {
		c.conn.SetReadLimit(h.cfg.MaxMessage)
	}
	pongWait := h.cfg.PingInterval * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && h.logger != nil {
				h.logger.Debug("websocket read error", zap.String("room_code", c.roomCode), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(WSMessage{Type: room.MsgError, Detail: "Malformed message"})
			continue
		}
		c.handle(msg)
	}
}

// handle runs one inbound message. Successful actions reach every client
// through Publish; only failures are answered directly.
func (c *Client) handle(msg WSMessage) {
	h := c.hub
	switch msg.Type {
	case MsgPing:
		c.reply(WSMessage{Type: room.MsgPong})

	case MsgStartGame:
		if _, err := h.rooms.StartGame(context.Background(), c.roomCode, c.playerID); err != nil {
			c.reply(WSMessage{Type: room.MsgError, Detail: errorMessage(err)})
		}

	case MsgAction:
		var a game.Action
		if len(msg.Data) == 0 || json.Unmarshal(msg.Data, &a) != nil {
			c.reply(WSMessage{Type: room.MsgError, Detail: "Malformed action"})
			return
		}
		a.PlayerID = c.playerID
		res, _, err := h.rooms.ApplyAction(context.Background(), c.roomCode, a)
		if err != nil {
			c.reply(WSMessage{Type: room.MsgError, Detail: errorMessage(err), Result: &res})
		}

	default:
		c.reply(WSMessage{Type: room.MsgError, Detail: "Unsupported event type."})
	}
}

// reply queues a message for this client only
func (c *Client) reply(msg WSMessage) {
	data := c.hub.encode(msg)
	if data == nil {
		return
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.hub.clients[c.roomCode][c.playerID] != c {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	h := c.hub
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
