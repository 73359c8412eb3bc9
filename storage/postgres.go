package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"videoRAG/core"
)

// PostgresStore keeps videos and entries in PostgreSQL with the pgvector
// extension. Entries reference their video with ON DELETE CASCADE.
type PostgresStore struct {
	pool *pgxpool.Pool
	txm  *TransactionManager
	dim  int
}

func NewPostgresStore(ctx context.Context, dbURL string, dim int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool, txm: NewTransactionManager(pool, DefaultTransactionConfig), dim: dim}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS videos (
			id          VARCHAR(64) PRIMARY KEY,
			title       VARCHAR(500) NOT NULL DEFAULT '',
			media_path  VARCHAR(1000) NOT NULL,
			duration    DOUBLE PRECISION NOT NULL DEFAULT 0,
			status      VARCHAR(16) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS transcript_entries (
			id          BIGSERIAL PRIMARY KEY,
			video_id    VARCHAR(64) NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			text        TEXT NOT NULL,
			start_time  DOUBLE PRECISION NOT NULL,
			end_time    DOUBLE PRECISION NOT NULL,
			embedding   vector(%d) NOT NULL
		);`, s.dim),
		"CREATE INDEX IF NOT EXISTS idx_transcript_entries_video_start ON transcript_entries(video_id, start_time);",
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateVideo(ctx context.Context, v *core.Video) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO videos (id, title, media_path, duration, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.Title, v.MediaPath, v.DurationSec, string(v.Status), v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert video %s: %w", v.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetVideo(ctx context.Context, id string) (*core.Video, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, media_path, duration, status, created_at FROM videos WHERE id = $1
	`, id)
	v, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video %s: %w", id, err)
	}
	return v, nil
}

func (s *PostgresStore) ListVideos(ctx context.Context) ([]*core.Video, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, media_path, duration, status, created_at FROM videos ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()
	var out []*core.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVideo(row pgx.Row) (*core.Video, error) {
	var v core.Video
	var status string
	if err := row.Scan(&v.ID, &v.Title, &v.MediaPath, &v.DurationSec, &status, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.Status = core.VideoStatus(status)
	return &v, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status core.VideoStatus) error {
	tag, err := s.pool.Exec(ctx, "UPDATE videos SET status = $2 WHERE id = $1", id, string(status))
	if err != nil {
		return fmt.Errorf("update status for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrVideoNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteVideo(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM videos WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete video %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrVideoNotFound
	}
	return nil
}

// ReplaceEntries deletes and re-inserts a video's entries in one transaction.
func (s *PostgresStore) ReplaceEntries(ctx context.Context, videoID string, entries []core.Entry) error {
	err := s.txm.Run(ctx, "replace entries "+videoID, func(tx pgx.Tx) error {
		if err := lockVideo(ctx, tx, videoID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "DELETE FROM transcript_entries WHERE video_id = $1", videoID); err != nil {
			return fmt.Errorf("delete previous entries: %w", err)
		}

		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(`
				INSERT INTO transcript_entries (video_id, text, start_time, end_time, embedding)
				VALUES ($1, $2, $3, $4, $5)
			`, videoID, e.Text, e.Start, e.End, pgvector.NewVector(e.Embedding))
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert entries: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	storeLogger.Printf("replaced %d entries for video %s", len(entries), videoID)
	return nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, videoID string) ([]core.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT text, start_time, end_time, embedding
		FROM transcript_entries
		WHERE video_id = $1
		ORDER BY start_time, id
	`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list entries for %s: %w", videoID, err)
	}
	defer rows.Close()

	var out []core.Entry
	for rows.Next() {
		var e core.Entry
		var vec pgvector.Vector
		if err := rows.Scan(&e.Text, &e.Start, &e.End, &vec); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.VideoID = videoID
		e.Embedding = vec.Slice()
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEntries is normally implied by the cascade; it is kept for explicit clears.
func (s *PostgresStore) DeleteEntries(ctx context.Context, videoID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM transcript_entries WHERE video_id = $1", videoID); err != nil {
		return fmt.Errorf("delete entries for %s: %w", videoID, err)
	}
	return nil
}
