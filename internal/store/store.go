// Package store keeps an optional PostgreSQL ledger of stabilization runs and
// the per-frame offsets they applied.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Store manages the PostgreSQL connection.
type Store struct {
	conn *pgx.Conn
}

// Run is one row of stabilization_runs.
type Run struct {
	ID              string
	VideoID         string
	InputPath       string
	OutputPath      string
	Status          string
	StartedAt       time.Time
	FinishedAt      *time.Time
	Frames          int
	FacesFound      int
	AvgTimePerFrame float64
}

// RunSummary is what FinishRun records.
type RunSummary struct {
	Status          string
	Frames          int
	FacesFound      int
	AvgTimePerFrame float64
}

// FrameOffset is the translation applied to one output frame.
type FrameOffset struct {
	FrameIndex int
	FaceFound  bool
	DX, DY     int
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			width INT NOT NULL DEFAULT 0,
			height INT NOT NULL DEFAULT 0,
			fps DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_frames INT NOT NULL DEFAULT 0,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS stabilization_runs (
			id TEXT PRIMARY KEY,
			video_id TEXT REFERENCES video_metadata(id),
			input_path TEXT NOT NULL DEFAULT '',
			output_path TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ,
			frames INT NOT NULL DEFAULT 0,
			faces_found INT NOT NULL DEFAULT 0,
			avg_time_per_frame DOUBLE PRECISION NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS frame_offsets (
			run_id TEXT NOT NULL REFERENCES stabilization_runs(id) ON DELETE CASCADE,
			frame_index INT NOT NULL,
			face_found BOOLEAN NOT NULL,
			dx INT NOT NULL,
			dy INT NOT NULL,
			PRIMARY KEY (run_id, frame_index)
		);
		CREATE INDEX IF NOT EXISTS stabilization_runs_started_at_idx ON stabilization_runs (started_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureVideoMetadata registers the video, refreshing its probe data if it is
// already known.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, path string, width, height int, fps float64, totalFrames int) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO video_metadata (id, path, width, height, fps, total_frames, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path, width = EXCLUDED.width, height = EXCLUDED.height,
			fps = EXCLUDED.fps, total_frames = EXCLUDED.total_frames, indexed_at = NOW()
	`, videoID, path, width, height, fps, totalFrames)
	return err
}

// StartRun inserts a running row and returns its id. videoID may be empty for
// assembly-only runs.
func (s *Store) StartRun(ctx context.Context, videoID, inputPath, outputPath string) (string, error) {
	id := uuid.NewString()
	var vid *string
	if videoID != "" {
		vid = &videoID
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO stabilization_runs (id, video_id, input_path, output_path, status)
		VALUES ($1, $2, $3, $4, $5)
	`, id, vid, inputPath, outputPath, StatusRunning)
	if err != nil {
		return "", err
	}
	return id, nil
}

// InsertFrameOffsets bulk-loads offsets for a run.
func (s *Store) InsertFrameOffsets(ctx context.Context, runID string, offsets []FrameOffset) (int64, error) {
	if len(offsets) == 0 {
		return 0, nil
	}
	return s.conn.CopyFrom(ctx,
		pgx.Identifier{"frame_offsets"},
		[]string{"run_id", "frame_index", "face_found", "dx", "dy"},
		pgx.CopyFromSlice(len(offsets), func(i int) ([]any, error) {
			o := offsets[i]
			return []any{runID, o.FrameIndex, o.FaceFound, o.DX, o.DY}, nil
		}),
	)
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, sum RunSummary) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE stabilization_runs
		SET status = $2, finished_at = NOW(), frames = $3, faces_found = $4, avg_time_per_frame = $5
		WHERE id = $1
	`, runID, sum.Status, sum.Frames, sum.FacesFound, sum.AvgTimePerFrame)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, COALESCE(video_id, ''), input_path, output_path, status, started_at,
			finished_at, frames, faces_found, avg_time_per_frame
		FROM stabilization_runs
		ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.VideoID, &r.InputPath, &r.OutputPath, &r.Status, &r.StartedAt,
			&r.FinishedAt, &r.Frames, &r.FacesFound, &r.AvgTimePerFrame); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// FrameOffsets returns the stored offsets of a run in frame order.
func (s *Store) FrameOffsets(ctx context.Context, runID string) ([]FrameOffset, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT frame_index, face_found, dx, dy FROM frame_offsets
		WHERE run_id = $1 ORDER BY frame_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameOffset
	for rows.Next() {
		var o FrameOffset
		if err := rows.Scan(&o.FrameIndex, &o.FaceFound, &o.DX, &o.DY); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS frame_offsets CASCADE;
		DROP TABLE IF EXISTS stabilization_runs CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}
