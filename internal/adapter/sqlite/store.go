// Package sqlite persists station readings for training. One row per station
// and timestamp; re-ingesting a window upserts rather than duplicates.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/airshed/aod-calibration-service/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	station           TEXT NOT NULL,
	recorded_at       TEXT NOT NULL,
	aod               REAL NOT NULL,
	min_temp          REAL NOT NULL,
	max_temp          REAL NOT NULL,
	rainfall          REAL NOT NULL,
	humidity          REAL,
	ground_truth_pm25 REAL,
	PRIMARY KEY (station, recorded_at)
);
CREATE INDEX IF NOT EXISTS idx_readings_labeled
	ON readings (recorded_at) WHERE ground_truth_pm25 IS NOT NULL;
`

// Store is the sqlite-backed reading store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// modernc.org/sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// UpsertReadings writes a batch in one transaction, replacing rows that
// share a station and timestamp. Returns the number of readings written.
func (s *Store) UpsertReadings(ctx context.Context, readings []domain.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO readings (station, recorded_at, aod, min_temp, max_temp, rainfall, humidity, ground_truth_pm25)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (station, recorded_at) DO UPDATE SET
			aod = excluded.aod,
			min_temp = excluded.min_temp,
			max_temp = excluded.max_temp,
			rainfall = excluded.rainfall,
			humidity = excluded.humidity,
			ground_truth_pm25 = excluded.ground_truth_pm25`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		o := r.Observation
		_, err := stmt.ExecContext(ctx,
			r.Station, encodeTime(o.Timestamp),
			o.AOD, o.MinTemp, o.MaxTemp, o.Rainfall,
			nullable(o.Humidity), nullable(r.PM25))
		if err != nil {
			return 0, fmt.Errorf("sqlite: upsert %s@%s: %w", r.Station, o.Timestamp, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return len(readings), nil
}

// TrainingReadings returns every labeled reading in time order.
func (s *Store) TrainingReadings(ctx context.Context) ([]domain.Reading, error) {
	return s.query(ctx, `
		SELECT station, recorded_at, aod, min_temp, max_temp, rainfall, humidity, ground_truth_pm25
		FROM readings
		WHERE ground_truth_pm25 IS NOT NULL
		ORDER BY recorded_at`)
}

// History returns a station's most recent readings, oldest first, labeled or
// not.
func (s *Store) History(ctx context.Context, station string, limit int) ([]domain.Reading, error) {
	return s.query(ctx, `
		SELECT station, recorded_at, aod, min_temp, max_temp, rainfall, humidity, ground_truth_pm25
		FROM (
			SELECT * FROM readings WHERE station = ? ORDER BY recorded_at DESC LIMIT ?
		)
		ORDER BY recorded_at`, station, limit)
}

// Count returns the total stored readings and how many carry a label.
func (s *Store) Count(ctx context.Context) (total, labeled int, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(ground_truth_pm25) FROM readings`)
	if err := row.Scan(&total, &labeled); err != nil {
		return 0, 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return total, labeled, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]domain.Reading, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query readings: %w", err)
	}
	defer rows.Close()

	var out []domain.Reading
	for rows.Next() {
		var r domain.Reading
		var recordedAt string
		var humidity, pm25 sql.NullFloat64
		err := rows.Scan(&r.Station, &recordedAt,
			&r.Observation.AOD, &r.Observation.MinTemp, &r.Observation.MaxTemp,
			&r.Observation.Rainfall, &humidity, &pm25)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan reading: %w", err)
		}
		ts, err := decodeTime(recordedAt)
		if err != nil {
			return nil, err
		}
		r.Observation.Timestamp = ts
		if humidity.Valid {
			v := humidity.Float64
			r.Observation.Humidity = &v
		}
		if pm25.Valid {
			v := pm25.Float64
			r.PM25 = &v
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate readings: %w", err)
	}
	return out, nil
}

// Timestamps are stored as RFC 3339 UTC strings so lexicographic ORDER BY is
// chronological.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: bad recorded_at %q: %w", s, err)
	}
	return t, nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
