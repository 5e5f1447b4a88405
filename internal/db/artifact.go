// Package db persists pattern databases and solve history in SQLite.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"skysolve/internal/astro"
	"skysolve/internal/catalog"
	"skysolve/internal/pattern"
)

// artifactVersion is bumped whenever the schema or the feature definition
// changes incompatibly. Readers refuse artifacts with a different version.
const artifactVersion = 1

// ErrIncompatibleArtifact reports a pattern database that this build of the
// solver cannot use: wrong schema version or missing metadata.
var ErrIncompatibleArtifact = errors.New("db: incompatible pattern database")

// SaveIndex writes a freshly built index to path, replacing any existing
// file. The write is a single transaction with no timestamps or
// autoincrement rowids, so identical indexes produce byte-identical
// artifacts.
func SaveIndex(path string, ix *pattern.Index) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replace artifact: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Journal off keeps the file layout a pure function of the inserts.
	if _, err := conn.Exec(`PRAGMA journal_mode=OFF;`); err != nil {
		return err
	}

	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE meta (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        );`,
		`CREATE TABLE stars (
            idx INTEGER PRIMARY KEY,
            hip INTEGER NOT NULL,
            ra_deg REAL NOT NULL,
            dec_deg REAL NOT NULL,
            magnitude REAL NOT NULL,
            is_pattern INTEGER NOT NULL,
            is_verify INTEGER NOT NULL
        );`,
		`CREATE TABLE patterns (
            idx INTEGER PRIMARY KEY,
            s0 INTEGER NOT NULL,
            s1 INTEGER NOT NULL,
            s2 INTEGER NOT NULL,
            s3 INTEGER NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	paramsJSON, err := json.Marshal(ix.Params)
	if err != nil {
		return err
	}
	metaIns, err := tx.Prepare(`INSERT INTO meta (key, value) VALUES (?, ?);`)
	if err != nil {
		return err
	}
	defer metaIns.Close()
	if _, err := metaIns.Exec("version", fmt.Sprintf("%d", artifactVersion)); err != nil {
		return err
	}
	if _, err := metaIns.Exec("params", string(paramsJSON)); err != nil {
		return err
	}

	isPattern := make(map[int32]bool, len(ix.PatternStars))
	for _, si := range ix.PatternStars {
		isPattern[si] = true
	}
	isVerify := make(map[int32]bool, len(ix.VerifyStars))
	for _, si := range ix.VerifyStars {
		isVerify[si] = true
	}

	starIns, err := tx.Prepare(`INSERT INTO stars (idx, hip, ra_deg, dec_deg, magnitude, is_pattern, is_verify) VALUES (?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer starIns.Close()
	for i, s := range ix.Stars {
		if _, err := starIns.Exec(i, s.HIP, s.RaDeg, s.DecDeg, s.Magnitude,
			boolInt(isPattern[int32(i)]), boolInt(isVerify[int32(i)])); err != nil {
			return err
		}
	}

	patIns, err := tx.Prepare(`INSERT INTO patterns (idx, s0, s1, s2, s3) VALUES (?, ?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer patIns.Close()
	for i, p := range ix.Patterns {
		if _, err := patIns.Exec(i, p.Stars[0], p.Stars[1], p.Stars[2], p.Stars[3]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadIndex reads a pattern database artifact and reconstructs the
// in-memory index, including its feature buckets.
func LoadIndex(path string) (*pattern.Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	meta, err := readMeta(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleArtifact, err)
	}
	if meta["version"] != fmt.Sprintf("%d", artifactVersion) {
		return nil, fmt.Errorf("%w: version %q, want %d", ErrIncompatibleArtifact, meta["version"], artifactVersion)
	}
	var params pattern.Params
	if err := json.Unmarshal([]byte(meta["params"]), &params); err != nil {
		return nil, fmt.Errorf("%w: params: %v", ErrIncompatibleArtifact, err)
	}
	if params.PatternSize != pattern.PatternSize {
		return nil, fmt.Errorf("%w: pattern size %d, want %d", ErrIncompatibleArtifact, params.PatternSize, pattern.PatternSize)
	}

	stars, patternStars, verifyStars, err := readStars(conn)
	if err != nil {
		return nil, err
	}
	patterns, err := readPatterns(conn, len(stars))
	if err != nil {
		return nil, err
	}
	return pattern.NewIndex(params, stars, patternStars, verifyStars, patterns), nil
}

func readMeta(conn *sql.DB) (map[string]string, error) {
	rows, err := conn.Query(`SELECT key, value FROM meta;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func readStars(conn *sql.DB) ([]catalog.Star, []int32, []int32, error) {
	rows, err := conn.Query(`SELECT idx, hip, ra_deg, dec_deg, magnitude, is_pattern, is_verify FROM stars ORDER BY idx;`)
	if err != nil {
		return nil, nil, nil, err
	}
	defer rows.Close()

	var stars []catalog.Star
	var patternStars, verifyStars []int32
	for rows.Next() {
		var idx, pat, ver int
		var s catalog.Star
		if err := rows.Scan(&idx, &s.HIP, &s.RaDeg, &s.DecDeg, &s.Magnitude, &pat, &ver); err != nil {
			return nil, nil, nil, err
		}
		if idx != len(stars) {
			return nil, nil, nil, fmt.Errorf("%w: star index gap at %d", ErrIncompatibleArtifact, idx)
		}
		s.Direction = astro.UnitFromRaDec(s.RaDeg, s.DecDeg)
		stars = append(stars, s)
		if pat != 0 {
			patternStars = append(patternStars, int32(idx))
		}
		if ver != 0 {
			verifyStars = append(verifyStars, int32(idx))
		}
	}
	return stars, patternStars, verifyStars, rows.Err()
}

func readPatterns(conn *sql.DB, numStars int) ([]pattern.Pattern, error) {
	rows, err := conn.Query(`SELECT idx, s0, s1, s2, s3 FROM patterns ORDER BY idx;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []pattern.Pattern
	for rows.Next() {
		var idx int
		var p pattern.Pattern
		if err := rows.Scan(&idx, &p.Stars[0], &p.Stars[1], &p.Stars[2], &p.Stars[3]); err != nil {
			return nil, err
		}
		for _, si := range p.Stars {
			if si < 0 || int(si) >= numStars {
				return nil, fmt.Errorf("%w: pattern %d references star %d of %d", ErrIncompatibleArtifact, idx, si, numStars)
			}
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
