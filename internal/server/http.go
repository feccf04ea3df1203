package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cardtable/cardtable-server-go/internal/config"
	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/room"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const playerIDKey = "player_id"

type createRoomRequest struct {
	GameID     string `json:"gameId" binding:"required"`
	PlayerName string `json:"playerName" binding:"required"`
	Password   string `json:"password"`
}

type joinRoomRequest struct {
	PlayerName string `json:"playerName" binding:"required"`
	Password   string `json:"password"`
}

type actionRequest struct {
	Type           string         `json:"type" binding:"required"`
	CardID         string         `json:"cardId"`
	TargetPlayerID string         `json:"targetPlayerId"`
	Metadata       map[string]any `json:"metadata"`
}

type actionResponse struct {
	game.Result
	State *game.StateView `json:"state,omitempty"`
}

type api struct {
	rooms  *room.Manager
	logger *zap.Logger
}

// NewRouter builds the REST and websocket routes. hub may be nil for a
// server without realtime updates.
func NewRouter(rooms *room.Manager, hub *Hub, logger *zap.Logger) *gin.Engine {
	a := &api{rooms: rooms, logger: logger}

	r := gin.New()
	r.Use(ginLogger(logger), ginRecovery(logger))

	r.GET("/healthz", a.health)

	apiGroup := r.Group("/api")
	apiGroup.GET("/games", a.listGames)
	apiGroup.GET("/rooms", a.listRooms)
	apiGroup.POST("/rooms", a.createRoom)
	apiGroup.POST("/rooms/:code/join", a.joinRoom)

	seated := apiGroup.Group("/rooms/:code", seatAuth(rooms))
	seated.GET("/state", a.state)
	seated.POST("/start", a.start)
	seated.POST("/action", a.action)
	seated.POST("/leave", a.leave)
	seated.DELETE("", a.deleteRoom)
	seated.GET("/replay", a.replay)
	seated.GET("/replay/:seq", a.replayFrame)

	if hub != nil {
		r.GET("/ws/:code", hub.ServeWS)
	}
	return r
}

// NewHTTPServer wraps the router with the configured timeouts
func NewHTTPServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// seatAuth accepts a seat token from the Authorization header or the token
// query parameter and stores the seated player id on the context.
func seatAuth(rooms *room.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "seat token required"})
			return
		}
		claims, err := rooms.VerifySeat(c.Param("code"), token)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(playerIDKey, claims.PlayerID)
		c.Next()
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(httpStatus(err), gin.H{"error": errorMessage(err)})
}

func (a *api) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": len(a.rooms.ListRooms())})
}

func (a *api) listGames(c *gin.Context) {
	c.JSON(http.StatusOK, a.rooms.Catalog().List())
}

func (a *api) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, a.rooms.ListRooms())
}

func (a *api) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gameId and playerName are required"})
		return
	}
	seat, err := a.rooms.CreateRoom(c.Request.Context(), req.GameID, req.PlayerName, req.Password)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, seat)
}

func (a *api) joinRoom(c *gin.Context) {
	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "playerName is required"})
		return
	}
	seat, err := a.rooms.JoinRoom(c.Request.Context(), c.Param("code"), req.PlayerName, req.Password)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, seat)
}

func (a *api) state(c *gin.Context) {
	view, err := a.rooms.State(c.Param("code"), c.GetString(playerIDKey))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *api) start(c *gin.Context) {
	view, err := a.rooms.StartGame(c.Request.Context(), c.Param("code"), c.GetString(playerIDKey))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *api) action(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action type is required"})
		return
	}
	res, view, err := a.rooms.ApplyAction(c.Request.Context(), c.Param("code"), game.Action{
		Type:           req.Type,
		PlayerID:       c.GetString(playerIDKey),
		CardID:         req.CardID,
		TargetPlayerID: req.TargetPlayerID,
		Metadata:       req.Metadata,
	})
	if view == nil {
		abortWithError(c, err)
		return
	}
	if err != nil {
		res.Error = errorMessage(err)
	}
	c.JSON(httpStatus(err), actionResponse{Result: res, State: view})
}

func (a *api) leave(c *gin.Context) {
	if err := a.rooms.LeaveRoom(c.Request.Context(), c.Param("code"), c.GetString(playerIDKey)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) deleteRoom(c *gin.Context) {
	if err := a.rooms.DeleteRoom(c.Request.Context(), c.Param("code"), c.GetString(playerIDKey)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) replay(c *gin.Context) {
	frames, err := a.rooms.ReplayFrames(c.Param("code"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"roomCode":  room.NormalizeCode(c.Param("code")),
		"frames":    frames,
		"recording": a.rooms.IsRecording(c.Param("code")),
	})
}

func (a *api) replayFrame(c *gin.Context) {
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "frame number must be an integer"})
		return
	}
	step, err := a.rooms.ReplayFrame(c.Param("code"), seq, c.GetString(playerIDKey))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

// ginLogger logs one line per request with zap
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if logger == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if code := c.Param("code"); code != "" {
			fields = append(fields, zap.String("room_code", room.NormalizeCode(code)))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}

// ginRecovery turns a handler panic into a 500 and logs it
func ginRecovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		if logger != nil {
			logger.Error("panic in http handler",
				zap.Any("panic", recovered),
				zap.String("path", c.Request.URL.Path),
			)
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}
