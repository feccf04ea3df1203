package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// RoomRecord is the persisted form of one room. Snapshot is an encoded
// game state blob; the store never looks inside it.
type RoomRecord struct {
	Code         string
	GameID       string
	Phase        string
	Snapshot     []byte
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FinishedGame is the archive entry written when a game ends
type FinishedGame struct {
	ID         string
	RoomCode   string
	GameID     string
	WinnerID   string
	WinnerName string
	Players    []string
	Turns      int
	Log        json.RawMessage
	FinishedAt time.Time
}

// DefinitionRecord is a stored game definition document
type DefinitionRecord struct {
	ID         string
	Name       string
	Definition json.RawMessage
	UpdatedAt  time.Time
}

// RoomStore persists live rooms and archives finished games
type RoomStore interface {
	SaveRoom(ctx context.Context, rec RoomRecord) error
	LoadRoom(ctx context.Context, code string) (*RoomRecord, error)
	ListRooms(ctx context.Context) ([]RoomRecord, error)
	DeleteRoom(ctx context.Context, code string) error
	ArchiveGame(ctx context.Context, g FinishedGame) error
	ListFinishedGames(ctx context.Context, gameID string, limit int) ([]FinishedGame, error)
}

// DefinitionStore holds game definitions for servers that load their
// catalog from the database
type DefinitionStore interface {
	SaveDefinition(ctx context.Context, rec DefinitionRecord) error
	ListDefinitions(ctx context.Context) ([]DefinitionRecord, error)
}
