// Package storage persists training sessions in SQLite. Interval records are
// stored as one JSON blob per session; the queried aggregates live in their
// own columns.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jonbondani/interval-pro-sub001/internal/coach"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                    TEXT PRIMARY KEY,
	plan_id               TEXT NOT NULL,
	plan_name             TEXT NOT NULL,
	started_at            INTEGER NOT NULL,
	ended_at              INTEGER NOT NULL,
	completed             INTEGER NOT NULL,
	total_distance_meters REAL NOT NULL,
	avg_hr                INTEGER NOT NULL,
	max_hr                INTEGER NOT NULL,
	min_hr                INTEGER NOT NULL,
	time_in_zone_ns       INTEGER NOT NULL,
	step_count            INTEGER NOT NULL,
	score                 REAL NOT NULL,
	intervals             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_plan ON sessions (plan_id, started_at);
`

// sessionRow is the flat database shape of a TrainingSession.
type sessionRow struct {
	ID                  string  `db:"id"`
	PlanID              string  `db:"plan_id"`
	PlanName            string  `db:"plan_name"`
	StartedAt           int64   `db:"started_at"` // unix nanos
	EndedAt             int64   `db:"ended_at"`
	Completed           bool    `db:"completed"`
	TotalDistanceMeters float64 `db:"total_distance_meters"`
	AvgHR               int     `db:"avg_hr"`
	MaxHR               int     `db:"max_hr"`
	MinHR               int     `db:"min_hr"`
	TimeInZoneNS        int64   `db:"time_in_zone_ns"`
	StepCount           int     `db:"step_count"`
	Score               float64 `db:"score"`
	Intervals           []byte  `db:"intervals"`
}

// SQLStore implements coach.SessionStore on SQLite.
type SQLStore struct {
	logger *log.Logger
	db     *sqlx.DB
}

var _ coach.SessionStore = (*SQLStore)(nil)

// Open creates the parent directory if needed, opens the database, and
// bootstraps the schema.
func Open(path string, logger *log.Logger) (*SQLStore, error) {
	if logger == nil {
		panic("SQLStore: logger cannot be nil")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single pooled connection avoids lock errors
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	logger.Printf("SQLStore: opened %s", path)
	return &SQLStore{logger: logger, db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Save upserts one session.
func (s *SQLStore) Save(ctx context.Context, session *coach.TrainingSession) error {
	row, err := toRow(session)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}

	const query = `
		INSERT INTO sessions
			(id, plan_id, plan_name, started_at, ended_at, completed,
			 total_distance_meters, avg_hr, max_hr, min_hr, time_in_zone_ns,
			 step_count, score, intervals)
		VALUES
			(:id, :plan_id, :plan_name, :started_at, :ended_at, :completed,
			 :total_distance_meters, :avg_hr, :max_hr, :min_hr, :time_in_zone_ns,
			 :step_count, :score, :intervals)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = excluded.ended_at,
			completed = excluded.completed,
			total_distance_meters = excluded.total_distance_meters,
			avg_hr = excluded.avg_hr,
			max_hr = excluded.max_hr,
			min_hr = excluded.min_hr,
			time_in_zone_ns = excluded.time_in_zone_ns,
			step_count = excluded.step_count,
			score = excluded.score,
			intervals = excluded.intervals
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

// Fetch returns one session by ID, nil when not found.
func (s *SQLStore) Fetch(ctx context.Context, id uuid.UUID) (*coach.TrainingSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id.String())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session %s: %w", id, err)
	}
	return s.fromRow(&row)
}

// FetchBest returns the highest-scoring completed session of a plan, nil
// when the plan has never been completed.
func (s *SQLStore) FetchBest(ctx context.Context, planID uuid.UUID) (*coach.TrainingSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM sessions
		WHERE plan_id = ? AND completed = 1
		ORDER BY score DESC, started_at DESC
		LIMIT 1`, planID.String())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch best session for plan %s: %w", planID, err)
	}
	return s.fromRow(&row)
}

// FetchRecent returns the most recently started sessions, newest first.
func (s *SQLStore) FetchRecent(ctx context.Context, limit int) ([]*coach.TrainingSession, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent sessions: %w", err)
	}

	sessions := make([]*coach.TrainingSession, 0, len(rows))
	for i := range rows {
		session, err := s.fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// FetchBestPacesPerBlock scans all sessions of a plan and returns the fastest
// recorded pace for each work-block index. Records written before block
// tagging existed carry block 0 and fall back to their position within the
// series.
func (s *SQLStore) FetchBestPacesPerBlock(ctx context.Context, planID uuid.UUID) (map[int]float64, error) {
	var rows []struct {
		ID        string `db:"id"`
		Intervals []byte `db:"intervals"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, intervals FROM sessions WHERE plan_id = ?`, planID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions for plan %s: %w", planID, err)
	}

	best := make(map[int]float64)
	for _, row := range rows {
		var intervals []coach.IntervalRecord
		if err := json.Unmarshal(row.Intervals, &intervals); err != nil {
			s.logger.Printf("SQLStore: skipping malformed interval blob for session %s: %v", row.ID, err)
			continue
		}

		lastSeries := -1
		position := 0
		for i := range intervals {
			rec := &intervals[i]
			if rec.Phase != coach.PhaseWork {
				continue
			}
			if rec.Series != lastSeries {
				lastSeries = rec.Series
				position = 0
			}
			position++

			if rec.AvgPace <= 0 {
				continue
			}
			block := rec.Block
			if block == 0 {
				block = position
			}
			if current, ok := best[block]; !ok || rec.AvgPace < current {
				best[block] = rec.AvgPace
			}
		}
	}
	return best, nil
}

// Delete removes one session.
func (s *SQLStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func toRow(session *coach.TrainingSession) (*sessionRow, error) {
	intervals, err := json.Marshal(session.Intervals)
	if err != nil {
		return nil, err
	}
	return &sessionRow{
		ID:                  session.ID.String(),
		PlanID:              session.PlanID.String(),
		PlanName:            session.PlanName,
		StartedAt:           session.StartedAt.UnixNano(),
		EndedAt:             unixNanoOrZero(session.EndedAt),
		Completed:           session.Completed,
		TotalDistanceMeters: session.TotalDistanceMeters,
		AvgHR:               session.AvgHR,
		MaxHR:               session.MaxHR,
		MinHR:               session.MinHR,
		TimeInZoneNS:        int64(session.TimeInZone),
		StepCount:           session.StepCount,
		Score:               session.Score,
		Intervals:           intervals,
	}, nil
}

// fromRow decodes a sessionRow. A malformed interval blob degrades to an
// empty interval list with a logged warning rather than failing the fetch.
func (s *SQLStore) fromRow(row *sessionRow) (*coach.TrainingSession, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("malformed session id %q: %w", row.ID, err)
	}
	planID, err := uuid.Parse(row.PlanID)
	if err != nil {
		return nil, fmt.Errorf("malformed plan id %q: %w", row.PlanID, err)
	}

	session := &coach.TrainingSession{
		ID:                  id,
		PlanID:              planID,
		PlanName:            row.PlanName,
		StartedAt:           time.Unix(0, row.StartedAt),
		Completed:           row.Completed,
		TotalDistanceMeters: row.TotalDistanceMeters,
		AvgHR:               row.AvgHR,
		MaxHR:               row.MaxHR,
		MinHR:               row.MinHR,
		TimeInZone:          time.Duration(row.TimeInZoneNS),
		StepCount:           row.StepCount,
		Score:               row.Score,
	}
	if row.EndedAt != 0 {
		session.EndedAt = time.Unix(0, row.EndedAt)
	}

	if err := json.Unmarshal(row.Intervals, &session.Intervals); err != nil {
		s.logger.Printf("SQLStore: skipping malformed interval blob for session %s: %v", row.ID, err)
		session.Intervals = nil
	}
	return session, nil
}

func unixNanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
