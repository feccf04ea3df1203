// Package room hosts game sessions: one GameState per room, mutated under the
// room's lock and fanned out to the seated players as masked views.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Broadcast message types
const (
	MsgGameState          = "game_state"
	MsgPlayerConnected    = "player_connected"
	MsgPlayerDisconnected = "player_disconnected"
	MsgRoomClosed         = "room_closed"
	MsgError              = "error"
	MsgPong               = "pong"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts = 100
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrUnknownGame  = errors.New("unknown game")
	ErrNameRequired = errors.New("player name is required")
	ErrNotHost      = errors.New("only the host can do that")
	ErrNotSeated    = errors.New("player is not seated in this room")
	ErrNoReplay     = errors.New("no replay recorded for this room")
	ErrNoFrame      = errors.New("replay frame out of range")
)

// Options tunes the manager
type Options struct {
	CodeLength     int
	ReactionWindow time.Duration
	IdleTimeout    time.Duration
	Persist        bool
	ReplayDir      string
}

// Update is one fan-out for a room. Views holds the masked view of every
// seated player for game_state updates.
type Update struct {
	Type     string
	RoomCode string
	PlayerID string
	Views    map[string]*game.StateView
}

// Broadcaster delivers updates to connected clients. Publish is called with
// the room lock held and must not block on network I/O.
type Broadcaster interface {
	Publish(u Update)
}

// Seat is what a player gets back after creating or joining a room
type Seat struct {
	RoomCode string          `json:"roomCode"`
	PlayerID string          `json:"playerId"`
	Token    string          `json:"token"`
	State    *game.StateView `json:"state"`
}

// Summary is the lobby listing shape of a room
type Summary struct {
	Code       string     `json:"code"`
	GameID     string     `json:"gameId"`
	GameName   string     `json:"gameName"`
	Phase      game.Phase `json:"phase"`
	Players    int        `json:"players"`
	MaxPlayers int        `json:"maxPlayers"`
	Private    bool       `json:"private"`
}

type reactionKey struct {
	pending *game.PendingAction
	count   int
}

// Room is one hosted game. All fields are guarded by mu.
type Room struct {
	mu           sync.Mutex
	code         string
	state        *game.GameState
	passwordHash string
	lastActive   time.Time
	archived     bool
	closed       bool

	reaction      reactionKey
	reactionGen   int
	reactionTimer *time.Timer
}

func (r *Room) stopReactionTimer() {
	if r.reactionTimer != nil {
		r.reactionTimer.Stop()
		r.reactionTimer = nil
	}
	r.reaction = reactionKey{}
}

// Manager owns every room on this server
type Manager struct {
	logger   *zap.Logger
	engine   *game.Engine
	catalog  *game.Catalog
	store    repository.RoomStore
	tokens   *TokenIssuer
	recorder *game.ReplayRecorder
	opts     Options
	randCode func(n int) string

	bmu         sync.RWMutex
	broadcaster Broadcaster

	mu      sync.RWMutex
	rooms   map[string]*Room
	refused map[string]error
}

// NewManager creates a room manager. store may be nil for a server without
// persistence.
func NewManager(logger *zap.Logger, engine *game.Engine, catalog *game.Catalog, store repository.RoomStore, tokens *TokenIssuer, opts Options) *Manager {
	if opts.CodeLength <= 0 {
		opts.CodeLength = 6
	}
	return &Manager{
		logger:   logger,
		engine:   engine,
		catalog:  catalog,
		store:    store,
		tokens:   tokens,
		recorder: game.NewReplayRecorder(logger, opts.ReplayDir),
		opts:     opts,
		randCode: randomCode,
		rooms:    make(map[string]*Room),
		refused:  make(map[string]error),
	}
}

// SetBroadcaster attaches the realtime transport
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.bmu.Lock()
	defer m.bmu.Unlock()
	m.broadcaster = b
}

// Engine returns the rules engine rooms are played with
func (m *Manager) Engine() *game.Engine { return m.engine }

// Catalog returns the games this server can host
func (m *Manager) Catalog() *game.Catalog { return m.catalog }

func randomCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}

// NormalizeCode upper-cases and trims a client supplied room code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// newCode allocates an unused code. Caller holds m.mu.
func (m *Manager) newCode() (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := m.randCode(m.opts.CodeLength)
		if _, taken := m.rooms[code]; taken {
			continue
		}
		if _, taken := m.refused[code]; taken {
			continue
		}
		return code, nil
	}
	return "", errors.New("failed to allocate a room code")
}

func (m *Manager) room(code string) (*Room, error) {
	code = NormalizeCode(code)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.rooms[code]; ok {
		return r, nil
	}
	if err, ok := m.refused[code]; ok {
		return nil, fmt.Errorf("room %s cannot be resumed: %w", code, err)
	}
	return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
}

// lock returns the room locked, or an error if it is gone
func (m *Manager) lock(code string) (*Room, error) {
	r, err := m.room(code)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, r.code)
	}
	return r, nil
}

func (m *Manager) publisher() Broadcaster {
	m.bmu.RLock()
	defer m.bmu.RUnlock()
	return m.broadcaster
}

// CreateRoom opens a lobby for the game with the caller as host
func (m *Manager) CreateRoom(ctx context.Context, gameID, hostName, password string) (*Seat, error) {
	def, ok := m.catalog.Get(gameID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGame, gameID)
	}
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		return nil, ErrNameRequired
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	playerID := uuid.NewString()
	m.mu.Lock()
	code, err := m.newCode()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	r := &Room{
		code:         code,
		state:        game.NewGameState(def, code, playerID, hostName),
		passwordHash: hash,
		lastActive:   time.Now(),
	}
	m.rooms[code] = r
	m.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	m.commit(ctx, r)
	seat, err := m.seat(r, playerID)
	if err != nil {
		return nil, err
	}

	if m.logger != nil {
		m.logger.Info("room created",
			zap.String("room_code", code),
			zap.String("game_id", def.ID),
			zap.String("player_id", playerID),
			zap.Bool("private", hash != ""),
		)
	}
	return seat, nil
}

// JoinRoom seats a new player in a lobby
func (m *Manager) JoinRoom(ctx context.Context, code, name, password string) (*Seat, error) {
	r, err := m.lock(code)
	if err != nil {
		return nil, err
	}
	defer r.mu.Unlock()

	if err := checkPassword(r.passwordHash, password); err != nil {
		return nil, err
	}
	playerID := uuid.NewString()
	if _, err := m.engine.AddPlayer(r.state, playerID, name); err != nil {
		return nil, err
	}
	m.commit(ctx, r)

	if m.logger != nil {
		m.logger.Info("player joined room",
			zap.String("room_code", r.code),
			zap.String("player_id", playerID),
			zap.Int("players", len(r.state.Players)),
		)
	}
	return m.seat(r, playerID)
}

func (m *Manager) seat(r *Room, playerID string) (*Seat, error) {
	token, err := m.tokens.Issue(r.code, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue seat token: %w", err)
	}
	return &Seat{
		RoomCode: r.code,
		PlayerID: playerID,
		Token:    token,
		State:    m.engine.View(r.state, playerID),
	}, nil
}

// StartGame deals the cards. Only the host may start.
func (m *Manager) StartGame(ctx context.Context, code, playerID string) (*game.StateView, error) {
	r, err := m.lock(code)
	if err != nil {
		return nil, err
	}
	defer r.mu.Unlock()

	if err := m.engine.StartGame(r.state, playerID); err != nil {
		return nil, err
	}
	m.recorder.StartRecording(r.code, r.state.GameID)
	m.recorder.Record(r.state, nil)
	m.commit(ctx, r)

	if m.logger != nil {
		m.logger.Info("game started",
			zap.String("room_code", r.code),
			zap.String("game_id", r.state.GameID),
			zap.Int("players", len(r.state.Players)),
		)
	}
	return m.engine.View(r.state, playerID), nil
}

// ApplyAction runs one action as a critical section: validate, mutate,
// persist and broadcast. A failed action that left the state as it was is
// neither persisted nor broadcast; one that changed it is committed anyway so
// clients and the store never lag the live room.
func (m *Manager) ApplyAction(ctx context.Context, code string, a game.Action) (game.Result, *game.StateView, error) {
	r, err := m.lock(code)
	if err != nil {
		return game.Result{Success: false, Error: err.Error()}, nil, err
	}
	defer r.mu.Unlock()

	before := fingerprint(r.state)
	res, err := m.engine.ApplyAction(r.state, a)
	if err != nil && fingerprint(r.state) == before {
		return res, m.engine.View(r.state, a.PlayerID), err
	}
	if err != nil && m.logger != nil {
		m.logger.Error("failed action changed the room",
			zap.String("room_code", r.code),
			zap.String("player_id", a.PlayerID),
			zap.String("action_type", a.Type),
			zap.Error(err),
		)
	}
	m.recorder.Record(r.state, &a)
	m.commit(ctx, r)
	return res, m.engine.View(r.state, a.PlayerID), err
}

// State returns the room as the viewer may see it
func (m *Manager) State(code, viewerID string) (*game.StateView, error) {
	r, err := m.lock(code)
	if err != nil {
		return nil, err
	}
	defer r.mu.Unlock()
	return m.engine.View(r.state, viewerID), nil
}

// Snapshot returns a deep copy of the room's full state
func (m *Manager) Snapshot(code string) (*game.GameState, error) {
	r, err := m.lock(code)
	if err != nil {
		return nil, err
	}
	defer r.mu.Unlock()
	return game.Clone(r.state)
}

// LeaveRoom unseats a lobby player or forfeits one in play. A lobby left
// empty is removed.
func (m *Manager) LeaveRoom(ctx context.Context, code, playerID string) error {
	r, err := m.lock(code)
	if err != nil {
		return err
	}
	if _, err := m.engine.RemovePlayer(r.state, playerID); err != nil {
		r.mu.Unlock()
		return err
	}
	empty := len(r.state.Players) == 0
	if !empty {
		m.recorder.Record(r.state, &game.Action{Type: "leave", PlayerID: playerID})
		m.commit(ctx, r)
		r.mu.Unlock()
		return nil
	}
	m.close(ctx, r)
	r.mu.Unlock()
	m.forget(r.code)
	return nil
}

// SetConnected records a player's transport presence and tells the room
func (m *Manager) SetConnected(code, playerID string, connected bool) error {
	r, err := m.lock(code)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	if !r.state.SetConnected(playerID, connected) {
		return ErrNotSeated
	}
	r.lastActive = time.Now()

	msg := MsgPlayerDisconnected
	if connected {
		msg = MsgPlayerConnected
	}
	if b := m.publisher(); b != nil {
		b.Publish(Update{Type: msg, RoomCode: r.code, PlayerID: playerID})
		b.Publish(m.stateUpdate(r))
	}
	return nil
}

// DeleteRoom tears a room down. Only the host may delete it.
func (m *Manager) DeleteRoom(ctx context.Context, code, playerID string) error {
	r, err := m.lock(code)
	if err != nil {
		return err
	}
	if r.state.HostID != playerID {
		r.mu.Unlock()
		return ErrNotHost
	}
	m.close(ctx, r)
	r.mu.Unlock()
	m.forget(r.code)

	if m.logger != nil {
		m.logger.Info("room deleted", zap.String("room_code", r.code), zap.String("player_id", playerID))
	}
	return nil
}

// close marks the room gone and drops its persisted copy. Caller holds r.mu.
func (m *Manager) close(ctx context.Context, r *Room) {
	r.closed = true
	r.stopReactionTimer()
	m.recorder.ClearReplay(r.code)
	if m.store != nil {
		if err := m.store.DeleteRoom(ctx, r.code); err != nil && m.logger != nil {
			m.logger.Error("failed to delete persisted room", zap.String("room_code", r.code), zap.Error(err))
		}
	}
	if b := m.publisher(); b != nil {
		b.Publish(Update{Type: MsgRoomClosed, RoomCode: r.code})
	}
}

func (m *Manager) forget(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, code)
}

// VerifySeat checks a seat token against a room
func (m *Manager) VerifySeat(code, token string) (*SeatClaims, error) {
	claims, err := m.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.RoomCode != NormalizeCode(code) {
		return nil, fmt.Errorf("%w: token is for another room", ErrInvalidToken)
	}
	r, err := m.lock(code)
	if err != nil {
		return nil, err
	}
	defer r.mu.Unlock()
	if r.state.FindPlayer(claims.PlayerID) == nil {
		return nil, ErrNotSeated
	}
	return claims, nil
}

// ListRooms returns every live room sorted by code
func (m *Manager) ListRooms() []Summary {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed {
			out = append(out, Summary{
				Code:       r.code,
				GameID:     r.state.GameID,
				GameName:   r.state.GameName,
				Phase:      r.state.Phase,
				Players:    len(r.state.Players),
				MaxPlayers: r.state.Rules.MaxPlayers,
				Private:    r.passwordHash != "",
			})
		}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ReplayFrames returns how many frames the room's replay holds, reading a
// saved replay from disk once the game has been archived.
func (m *Manager) ReplayFrames(code string) (int, error) {
	replay, err := m.replay(code)
	if err != nil {
		return 0, err
	}
	return replay.Size(), nil
}

// IsRecording reports whether the room's actions are still being recorded.
func (m *Manager) IsRecording(code string) bool {
	return m.recorder.IsRecording(NormalizeCode(code))
}

// ReplayStep is one recorded frame as a viewer may see it.
type ReplayStep struct {
	Sequence int             `json:"sequence"`
	Total    int             `json:"total"`
	Action   *game.Action    `json:"action,omitempty"`
	At       time.Time       `json:"at"`
	State    *game.StateView `json:"state"`
}

// ReplayFrame returns frame seq of the room's replay, masked for viewerID.
// Other players' actions show only their type and targets.
func (m *Manager) ReplayFrame(code string, seq int, viewerID string) (*ReplayStep, error) {
	replay, err := m.replay(code)
	if err != nil {
		return nil, err
	}
	frame := replay.FrameAt(seq)
	if frame == nil {
		return nil, ErrNoFrame
	}
	s, err := frame.State()
	if err != nil {
		return nil, err
	}

	step := &ReplayStep{
		Sequence: frame.Sequence,
		Total:    replay.Size(),
		At:       frame.At,
		State:    m.engine.View(s, viewerID),
	}
	if a := frame.Action; a != nil {
		shown := *a
		if a.PlayerID != viewerID {
			shown.CardID = ""
			shown.Metadata = nil
		}
		step.Action = &shown
	}
	return step, nil
}

// replay finds the room's replay in memory or, once archived, on disk. A
// replay read back from disk is verified frame by frame.
func (m *Manager) replay(code string) (*game.Replay, error) {
	code = NormalizeCode(code)
	if replay, ok := m.recorder.GetReplay(code); ok {
		return replay, nil
	}
	if m.opts.ReplayDir == "" {
		return nil, ErrNoReplay
	}
	replay, err := m.recorder.LoadReplay(code)
	if err != nil {
		return nil, ErrNoReplay
	}
	if err := replay.Verify(); err != nil {
		return nil, err
	}
	return replay, nil
}

// commit persists the room, archives a finished game and broadcasts the new
// state. Caller holds r.mu. Persistence failures are logged; the in-memory
// state stays authoritative.
func (m *Manager) commit(ctx context.Context, r *Room) {
	r.lastActive = time.Now()
	m.persist(ctx, r)
	if r.state.Phase == game.PhaseEnded && !r.archived {
		m.archive(ctx, r)
	}
	m.armReactionTimer(r)
	if b := m.publisher(); b != nil {
		b.Publish(m.stateUpdate(r))
	}
}

// fingerprint is the state's checksum, or "" when it cannot be computed.
func fingerprint(s *game.GameState) string {
	sum, err := game.ComputeChecksum(s)
	if err != nil {
		return ""
	}
	return sum.Hash
}

func (m *Manager) stateUpdate(r *Room) Update {
	views := make(map[string]*game.StateView, len(r.state.Players))
	for _, p := range r.state.Players {
		views[p.ID] = m.engine.View(r.state, p.ID)
	}
	return Update{Type: MsgGameState, RoomCode: r.code, Views: views}
}

func (m *Manager) persist(ctx context.Context, r *Room) {
	if m.store == nil || !m.opts.Persist {
		return
	}
	blob, err := game.EncodeSnapshot(r.state)
	if err == nil {
		err = m.store.SaveRoom(ctx, repository.RoomRecord{
			Code:         r.code,
			GameID:       r.state.GameID,
			Phase:        string(r.state.Phase),
			Snapshot:     blob,
			PasswordHash: r.passwordHash,
		})
	}
	if err != nil && m.logger != nil {
		m.logger.Error("failed to persist room",
			zap.String("room_code", r.code),
			zap.Error(err),
		)
	}
}

func (m *Manager) archive(ctx context.Context, r *Room) {
	r.archived = true
	s := r.state

	if m.opts.ReplayDir != "" {
		if err := m.recorder.SaveReplay(r.code); err != nil && m.logger != nil {
			m.logger.Warn("failed to save replay", zap.String("room_code", r.code), zap.Error(err))
		}
	} else {
		m.recorder.StopRecording(r.code)
	}

	if m.store == nil {
		return
	}
	players := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, p.Name)
	}
	logDoc, err := json.Marshal(s.Log)
	if err == nil {
		err = m.store.ArchiveGame(ctx, repository.FinishedGame{
			RoomCode:   r.code,
			GameID:     s.GameID,
			WinnerID:   s.WinnerID,
			WinnerName: s.PlayerName(s.WinnerID),
			Players:    players,
			Turns:      s.TurnNumber,
			Log:        logDoc,
		})
	}
	if err != nil {
		if m.logger != nil {
			m.logger.Error("failed to archive finished game", zap.String("room_code", r.code), zap.Error(err))
		}
		return
	}
	if m.logger != nil {
		m.logger.Info("game archived",
			zap.String("room_code", r.code),
			zap.String("game_id", s.GameID),
			zap.String("winner_id", s.WinnerID),
			zap.Int("turns", s.TurnNumber),
		)
	}
}

// armReactionTimer resolves an open reaction window once nobody has reacted
// for the configured window. Every reaction restarts the clock. Caller holds
// r.mu.
func (m *Manager) armReactionTimer(r *Room) {
	p := r.state.Pending
	if m.opts.ReactionWindow <= 0 || p == nil || p.Type != game.PendingReaction {
		r.stopReactionTimer()
		return
	}
	key := reactionKey{pending: p, count: p.ReactionCount}
	if r.reactionTimer != nil && r.reaction == key {
		return
	}
	r.stopReactionTimer()
	r.reaction = key
	r.reactionGen++
	gen := r.reactionGen
	r.reactionTimer = time.AfterFunc(m.opts.ReactionWindow, func() {
		m.expireReaction(r, gen)
	})
}

func (m *Manager) expireReaction(r *Room, gen int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || gen != r.reactionGen {
		return
	}
	r.reactionTimer = nil
	r.reaction = reactionKey{}
	p := r.state.Pending
	if p == nil || p.Type != game.PendingReaction {
		return
	}

	a := game.Action{Type: game.ActionResolveReaction, PlayerID: p.PlayerID}
	before := fingerprint(r.state)
	res, err := m.engine.ApplyAction(r.state, a)
	if err != nil && fingerprint(r.state) == before {
		if m.logger != nil {
			m.logger.Warn("reaction window could not be resolved",
				zap.String("room_code", r.code),
				zap.Error(err),
			)
		}
		return
	}
	if m.logger != nil {
		m.logger.Debug("reaction window expired",
			zap.String("room_code", r.code),
			zap.Strings("triggered", res.Triggered),
		)
	}
	m.recorder.Record(r.state, &a)
	m.commit(context.Background(), r)
}

// Restore loads persisted rooms. A room whose snapshot fails verification is
// refused: it stays unavailable instead of being repaired.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	recs, err := m.store.ListRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list persisted rooms: %w", err)
	}

	restored := 0
	for _, rec := range recs {
		s, err := game.DecodeSnapshot(rec.Snapshot)
		if err == nil {
			err = s.Validate()
		}
		if err == nil && s.RoomCode != rec.Code {
			err = fmt.Errorf("%w: snapshot belongs to room %s", game.ErrCorruptState, s.RoomCode)
		}
		if err != nil {
			m.mu.Lock()
			m.refused[rec.Code] = err
			m.mu.Unlock()
			if m.logger != nil {
				m.logger.Error("refusing to restore room",
					zap.String("room_code", rec.Code),
					zap.Error(err),
				)
			}
			continue
		}

		for _, p := range s.Players {
			p.IsConnected = false
		}
		r := &Room{
			code:         rec.Code,
			state:        s,
			passwordHash: rec.PasswordHash,
			lastActive:   time.Now(),
			archived:     s.Phase == game.PhaseEnded,
		}
		m.mu.Lock()
		m.rooms[rec.Code] = r
		m.mu.Unlock()

		r.mu.Lock()
		if s.Phase.IsLive() {
			// Frames from before the restart are not persisted; recording
			// starts over from the restored state.
			m.recorder.StartRecording(r.code, s.GameID)
			m.recorder.Record(s, nil)
		}
		m.armReactionTimer(r)
		r.mu.Unlock()
		restored++
	}

	if m.logger != nil {
		m.logger.Info("restored rooms",
			zap.Int("restored", restored),
			zap.Int("refused", len(recs)-restored),
		)
	}
	return restored, nil
}

// ReapIdle removes rooms nobody is connected to that have been quiet for
// longer than the idle timeout.
func (m *Manager) ReapIdle(ctx context.Context, now time.Time) int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	reaped := 0
	for _, r := range rooms {
		r.mu.Lock()
		idle := !r.closed && now.Sub(r.lastActive) > m.opts.IdleTimeout && !anyConnected(r.state)
		if idle {
			m.close(ctx, r)
		}
		r.mu.Unlock()
		if idle {
			m.forget(r.code)
			reaped++
			if m.logger != nil {
				m.logger.Info("reaped idle room", zap.String("room_code", r.code))
			}
		}
	}
	return reaped
}

func anyConnected(s *game.GameState) bool {
	for _, p := range s.Players {
		if p.IsConnected {
			return true
		}
	}
	return false
}

// RunJanitor reaps idle rooms until ctx is done
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.ReapIdle(ctx, now)
		}
	}
}

// Close stops every pending reaction timer
func (m *Manager) Close() {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	for _, r := range rooms {
		r.mu.Lock()
		r.stopReactionTimer()
		r.mu.Unlock()
	}
}
