package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PostgresStore implements RoomStore and DefinitionStore on PostgreSQL
type PostgresStore struct {
	db *DB
}

// NewPostgresStore creates a store backed by the pool
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveRoom(ctx context.Context, rec RoomRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rooms (code, game_id, phase, snapshot, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			game_id = EXCLUDED.game_id,
			phase = EXCLUDED.phase,
			snapshot = EXCLUDED.snapshot,
			password_hash = EXCLUDED.password_hash,
			updated_at = NOW()
	`, rec.Code, rec.GameID, rec.Phase, rec.Snapshot, rec.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", rec.Code, err)
	}
	return nil
}

func (s *PostgresStore) LoadRoom(ctx context.Context, code string) (*RoomRecord, error) {
	var rec RoomRecord
	err := s.db.QueryRow(ctx, `
		SELECT code, game_id, phase, snapshot, password_hash, created_at, updated_at
		FROM rooms WHERE code = $1
	`, code).Scan(&rec.Code, &rec.GameID, &rec.Phase, &rec.Snapshot, &rec.PasswordHash, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", code, err)
	}
	return &rec, nil
}

func (s *PostgresStore) ListRooms(ctx context.Context) ([]RoomRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT code, game_id, phase, snapshot, password_hash, created_at, updated_at
		FROM rooms ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var out []RoomRecord
	for rows.Next() {
		var rec RoomRecord
		if err := rows.Scan(&rec.Code, &rec.GameID, &rec.Phase, &rec.Snapshot, &rec.PasswordHash, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteRoom(ctx context.Context, code string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM rooms WHERE code = $1`, code); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", code, err)
	}
	return nil
}

// ArchiveGame records a finished game. The live room row is left alone; the
// room manager deletes it when the room is torn down.
func (s *PostgresStore) ArchiveGame(ctx context.Context, g FinishedGame) error {
	id := uuid.New()
	if g.ID != "" {
		parsed, err := uuid.Parse(g.ID)
		if err != nil {
			return fmt.Errorf("invalid finished game id %q: %w", g.ID, err)
		}
		id = parsed
	}
	players, err := json.Marshal(g.Players)
	if err != nil {
		return fmt.Errorf("failed to encode players: %w", err)
	}
	logDoc := []byte(g.Log)
	if len(logDoc) == 0 {
		logDoc = []byte("[]")
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO finished_games (id, room_code, game_id, winner_id, winner_name, players, turns, log)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, g.RoomCode, g.GameID, g.WinnerID, g.WinnerName, players, g.Turns, logDoc)
	if err != nil {
		return fmt.Errorf("failed to archive game %s: %w", g.RoomCode, err)
	}
	return nil
}

func (s *PostgresStore) ListFinishedGames(ctx context.Context, gameID string, limit int) ([]FinishedGame, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, room_code, game_id, winner_id, winner_name, players, turns, log, finished_at
		FROM finished_games
		WHERE $1 = '' OR game_id = $1
		ORDER BY finished_at DESC
		LIMIT $2
	`, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list finished games: %w", err)
	}
	defer rows.Close()

	var out []FinishedGame
	for rows.Next() {
		var (
			g       FinishedGame
			players []byte
			logDoc  []byte
		)
		if err := rows.Scan(&g.ID, &g.RoomCode, &g.GameID, &g.WinnerID, &g.WinnerName, &players, &g.Turns, &logDoc, &g.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finished game: %w", err)
		}
		if err := json.Unmarshal(players, &g.Players); err != nil {
			return nil, fmt.Errorf("failed to decode players of %s: %w", g.ID, err)
		}
		g.Log = logDoc
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveDefinition(ctx context.Context, rec DefinitionRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO game_definitions (id, name, definition)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			definition = EXCLUDED.definition,
			updated_at = NOW()
	`, rec.ID, rec.Name, []byte(rec.Definition))
	if err != nil {
		return fmt.Errorf("failed to save definition %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListDefinitions(ctx context.Context) ([]DefinitionRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, definition, updated_at FROM game_definitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var out []DefinitionRecord
	for rows.Next() {
		var (
			rec DefinitionRecord
			doc []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &doc, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		rec.Definition = doc
		out = append(out, rec)
	}
	return out, rows.Err()
}
