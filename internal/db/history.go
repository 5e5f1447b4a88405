package db

import (
	"database/sql"
	"time"
)

// History wraps SQLite-backed persistence for solve jobs. A nil *History is
// valid and drops every write, so callers can run without persistence.
type History struct {
	DB *sql.DB
}

// OpenHistory opens (or creates) the history database at path and ensures
// schema.
func OpenHistory(path string) (*History, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	h := &History{DB: conn}
	if err := h.ensureSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS solve_jobs (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            image_path TEXT,
            center_ra REAL,
            center_dec REAL,
            roll REAL,
            fov REAL,
            stars_detected INTEGER,
            stars_matched INTEGER,
            duration_ms INTEGER,
            error_message TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            completed_at TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_solve_jobs_status ON solve_jobs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_solve_jobs_created ON solve_jobs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := h.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (h *History) Close() error {
	if h == nil || h.DB == nil {
		return nil
	}
	return h.DB.Close()
}

// SolveRecord captures one persisted solve attempt.
type SolveRecord struct {
	ID            string
	Status        string
	ImagePath     string
	CenterRa      float64
	CenterDec     float64
	Roll          float64
	Fov           float64
	StarsDetected int
	StarsMatched  int
	DurationMs    int64
	Error         string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// RecordQueued inserts a pending solve job.
func (h *History) RecordQueued(id, imagePath string) error {
	if h == nil {
		return nil
	}
	_, err := h.DB.Exec(`INSERT OR REPLACE INTO solve_jobs (id, status, image_path) VALUES (?, 'queued', ?);`,
		id, imagePath)
	return err
}

// RecordResult finalizes a solve job.
func (h *History) RecordResult(rec SolveRecord) error {
	if h == nil {
		return nil
	}
	_, err := h.DB.Exec(`UPDATE solve_jobs SET
            status=?, center_ra=?, center_dec=?, roll=?, fov=?,
            stars_detected=?, stars_matched=?, duration_ms=?, error_message=?,
            completed_at=CURRENT_TIMESTAMP
        WHERE id=?;`,
		rec.Status, rec.CenterRa, rec.CenterDec, rec.Roll, rec.Fov,
		rec.StarsDetected, rec.StarsMatched, rec.DurationMs, rec.Error, rec.ID)
	return err
}

// RecentSolves returns the latest solve jobs up to limit.
func (h *History) RecentSolves(limit int) ([]SolveRecord, error) {
	if h == nil {
		return nil, nil
	}
	rows, err := h.DB.Query(`SELECT id, status, image_path,
            COALESCE(center_ra, 0), COALESCE(center_dec, 0), COALESCE(roll, 0), COALESCE(fov, 0),
            COALESCE(stars_detected, 0), COALESCE(stars_matched, 0), COALESCE(duration_ms, 0),
            COALESCE(error_message, ''), created_at, completed_at
        FROM solve_jobs ORDER BY created_at DESC, id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []SolveRecord
	for rows.Next() {
		var rec SolveRecord
		var completed sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Status, &rec.ImagePath,
			&rec.CenterRa, &rec.CenterDec, &rec.Roll, &rec.Fov,
			&rec.StarsDetected, &rec.StarsMatched, &rec.DurationMs,
			&rec.Error, &rec.CreatedAt, &completed); err != nil {
			return nil, err
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
