package repository

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. It backs servers running
// without a database and the room manager tests.
type MemoryStore struct {
	mu          sync.RWMutex
	rooms       map[string]RoomRecord
	finished    []FinishedGame
	definitions map[string]DefinitionRecord
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:       make(map[string]RoomRecord),
		definitions: make(map[string]DefinitionRecord),
	}
}

func (m *MemoryStore) SaveRoom(_ context.Context, rec RoomRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if prev, ok := m.rooms[rec.Code]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Snapshot = append([]byte(nil), rec.Snapshot...)
	m.rooms[rec.Code] = rec
	return nil
}

func (m *MemoryStore) LoadRoom(_ context.Context, code string) (*RoomRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.rooms[code]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Snapshot = append([]byte(nil), rec.Snapshot...)
	return &rec, nil
}

func (m *MemoryStore) ListRooms(_ context.Context) ([]RoomRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RoomRecord, 0, len(m.rooms))
	for _, rec := range m.rooms {
		rec.Snapshot = append([]byte(nil), rec.Snapshot...)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) DeleteRoom(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, code)
	return nil
}

func (m *MemoryStore) ArchiveGame(_ context.Context, g FinishedGame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g.FinishedAt.IsZero() {
		g.FinishedAt = time.Now()
	}
	m.finished = append(m.finished, g)
	return nil
}

// ListFinishedGames returns the newest games first. An empty gameID lists
// every game.
func (m *MemoryStore) ListFinishedGames(_ context.Context, gameID string, limit int) ([]FinishedGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []FinishedGame
	for i := len(m.finished) - 1; i >= 0; i-- {
		g := m.finished[i]
		if gameID != "" && g.GameID != gameID {
			continue
		}
		out = append(out, g)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveDefinition(_ context.Context, rec DefinitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.UpdatedAt = time.Now()
	m.definitions[rec.ID] = rec
	return nil
}

func (m *MemoryStore) ListDefinitions(_ context.Context) ([]DefinitionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DefinitionRecord, 0, len(m.definitions))
	for _, rec := range m.definitions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
