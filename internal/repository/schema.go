package repository

// Schema is applied on startup. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS rooms (
    code          TEXT PRIMARY KEY,
    game_id       TEXT NOT NULL,
    phase         TEXT NOT NULL,
    snapshot      BYTEA NOT NULL,
    password_hash TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS finished_games (
    id          UUID PRIMARY KEY,
    room_code   TEXT NOT NULL,
    game_id     TEXT NOT NULL,
    winner_id   TEXT NOT NULL DEFAULT '',
    winner_name TEXT NOT NULL DEFAULT '',
    players     JSONB NOT NULL,
    turns       INTEGER NOT NULL DEFAULT 0,
    log         JSONB NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS finished_games_game_id_idx ON finished_games (game_id, finished_at DESC);

CREATE TABLE IF NOT EXISTS game_definitions (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    definition JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
