// Package store persists sessions and analysis records to Postgres.
// Persistence is optional; the bridge runs fully in memory and the CLI
// only wires a store when a database URL is configured.
package store

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/callsensei/callsensei/pkg/core/bridge"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config configures a Store.
type Config struct {
	// DatabaseURL is a Postgres connection string. Required.
	DatabaseURL string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store is a Postgres-backed session and analysis archive.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects, runs pending migrations, and returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, bridge.NewConfigError("missing database URL")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, bridge.NewConfigError("parse database URL: " + err.Error())
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, bridge.NewResourceError("connect to database", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, bridge.NewResourceError("ping database", err)
	}

	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, logger: cfg.Logger}, nil
}

// migrate runs the embedded goose migrations over a database/sql
// handle borrowed from the pool's config.
func migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return bridge.NewResourceError("set migration dialect", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return bridge.NewResourceError("run migrations", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SessionRow is one archived session.
type SessionRow struct {
	ID         string
	Provider   string
	Mode       bridge.Mode
	StartedAt  time.Time
	EndedAt    sql.NullTime
	Terminal   sql.NullString
	Transcript string
}

// CreateSession records a session at connect time.
func (s *Store) CreateSession(ctx context.Context, id, provider string, mode bridge.Mode, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, provider, mode, started_at) VALUES ($1, $2, $3, $4)`,
		id, provider, string(mode), startedAt)
	if err != nil {
		return bridge.NewResourceError("insert session", err)
	}
	return nil
}

// EndSession stamps a session's terminal status and final transcript.
func (s *Store) EndSession(ctx context.Context, id string, terminal bridge.Status, transcript string, endedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sessions SET ended_at = $2, terminal_status = $3, transcript = $4 WHERE id = $1`,
		id, endedAt, string(terminal), transcript)
	if err != nil {
		return bridge.NewResourceError("end session", err)
	}
	return nil
}

// InsertAnalysis archives one accepted analysis record.
func (s *Store) InsertAnalysis(ctx context.Context, sessionID string, rec bridge.AnalysisRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analyses (session_id, emotion, confidence, suggestions, summary, opening_line, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sessionID, string(rec.Emotion), rec.Confidence, rec.Suggestions, rec.Summary, rec.OpeningLine,
		time.UnixMilli(rec.TimestampMS))
	if err != nil {
		return bridge.NewResourceError("insert analysis", err)
	}
	return nil
}

// Analyses returns a session's archived records in arrival order.
func (s *Store) Analyses(ctx context.Context, sessionID string) ([]bridge.AnalysisRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT emotion, confidence, suggestions, summary, opening_line, recorded_at
		 FROM analyses WHERE session_id = $1 ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, bridge.NewResourceError("query analyses", err)
	}
	defer rows.Close()

	var out []bridge.AnalysisRecord
	for rows.Next() {
		var (
			rec        bridge.AnalysisRecord
			emotion    string
			recordedAt time.Time
		)
		if err := rows.Scan(&emotion, &rec.Confidence, &rec.Suggestions, &rec.Summary, &rec.OpeningLine, &recordedAt); err != nil {
			return nil, bridge.NewResourceError("scan analysis", err)
		}
		rec.Emotion = bridge.Emotion(emotion)
		rec.TimestampMS = recordedAt.UnixMilli()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, bridge.NewResourceError("read analyses", err)
	}
	return out, nil
}

// Session returns one archived session row.
func (s *Store) Session(ctx context.Context, id string) (*SessionRow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, provider, mode, started_at, ended_at, terminal_status, COALESCE(transcript, '')
		 FROM sessions WHERE id = $1`,
		id)

	var (
		sr   SessionRow
		mode string
	)
	if err := row.Scan(&sr.ID, &sr.Provider, &mode, &sr.StartedAt, &sr.EndedAt, &sr.Terminal, &sr.Transcript); err != nil {
		return nil, bridge.NewResourceError("query session", err)
	}
	sr.Mode = bridge.Mode(mode)
	return &sr, nil
}
