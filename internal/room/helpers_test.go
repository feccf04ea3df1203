package room

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/plugin"
	"github.com/cardtable/cardtable-server-go/internal/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixedRand struct{}

func (fixedRand) Shuffle(int, func(i, j int)) {}
func (fixedRand) IntN(int) int                { return 0 }

// recorder collects every update the manager publishes.
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) Publish(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) ofType(msgType string) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Update
	for _, u := range r.updates {
		if u.Type == msgType {
			out = append(out, u)
		}
	}
	return out
}

func (r *recorder) last() Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

type harness struct {
	m     *Manager
	store *repository.MemoryStore
	bc    *recorder
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	return newHarnessWithStore(t, opts, repository.NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, opts Options, store *repository.MemoryStore) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	catalog := game.NewCatalog(logger)
	_, err := catalog.LoadDir(filepath.Join("..", "..", "games"))
	require.NoError(t, err)

	registry := game.NewPluginRegistry(logger)
	require.NoError(t, registry.Register(plugin.NewExplodingKittens(logger)))
	engine := game.NewEngine(logger, registry, nil)
	engine.SetRandomizer(fixedRand{})

	tokens, err := NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	opts.Persist = true
	m := NewManager(logger, engine, catalog, store, tokens, opts)
	bc := &recorder{}
	m.SetBroadcaster(bc)
	t.Cleanup(m.Close)
	return &harness{m: m, store: store, bc: bc}
}

// twoSeats creates a room for gameID and seats Alice (host) and Bob.
func (h *harness) twoSeats(t *testing.T, gameID string) (*Seat, *Seat) {
	t.Helper()
	ctx := context.Background()
	host, err := h.m.CreateRoom(ctx, gameID, "Alice", "")
	require.NoError(t, err)
	guest, err := h.m.JoinRoom(ctx, host.RoomCode, "Bob", "")
	require.NoError(t, err)
	return host, guest
}

// withState runs fn against the room's live state under its lock.
func (h *harness) withState(t *testing.T, code string, fn func(s *game.GameState)) {
	t.Helper()
	r, err := h.m.lock(code)
	require.NoError(t, err)
	defer r.mu.Unlock()
	fn(r.state)
}

// moveCard takes a card from any zone or hand into a player's hand.
func moveCard(t *testing.T, s *game.GameState, playerID, cardID string) {
	t.Helper()
	to := s.FindPlayer(playerID)
	require.NotNil(t, to)
	if to.Hand.IndexOf(cardID) >= 0 {
		return
	}
	for _, z := range s.Zones {
		for i, c := range z.Cards {
			if c.ID == cardID {
				z.Cards = append(z.Cards[:i], z.Cards[i+1:]...)
				to.Hand.Cards = append(to.Hand.Cards, c)
				return
			}
		}
	}
	for _, p := range s.Players {
		if i := p.Hand.IndexOf(cardID); i >= 0 {
			to.Hand.Cards = append(to.Hand.Cards, p.Hand.Take(i))
			return
		}
	}
	t.Fatalf("card %s not found", cardID)
}
