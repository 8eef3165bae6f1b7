// Package trackdb persists parse runs to sqlite: run metadata, per-record
// navigation rows, and the aligned block pairs. The schema is managed by
// embedded migrations so a database created by an older build upgrades in
// place.
package trackdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/waterfall"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type TrackDB struct {
	*sql.DB
}

// Open opens (or creates) the database at path and applies any pending
// migrations.
func Open(path string) (*TrackDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	tdb := &TrackDB{db}
	if err := tdb.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return tdb, nil
}

func (db *TrackDB) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("trackdb: load embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("trackdb: create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("trackdb: create migrate instance: %w", err)
	}
	// Not closing m: that would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("trackdb: migration up failed: %w", err)
	}
	return nil
}

// NewRun registers a parse run and returns its id.
func (db *TrackDB) NewRun(source, engine string) (string, error) {
	runID := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO runs (run_id, source, engine) VALUES (?, ?, ?)`,
		runID, source, engine,
	)
	if err != nil {
		return "", fmt.Errorf("trackdb: create run: %w", err)
	}
	return runID, nil
}

// FinishRun stores the run's final counters.
func (db *TrackDB) FinishRun(runID string, headers, decoded, skipped, flagged, fallbacks int) error {
	_, err := db.Exec(
		`UPDATE runs SET headers = ?, decoded = ?, skipped = ?, flagged = ?, fallbacks = ?
		 WHERE run_id = ?`,
		headers, decoded, skipped, flagged, fallbacks, runID,
	)
	if err != nil {
		return fmt.Errorf("trackdb: finish run %s: %w", runID, err)
	}
	return nil
}

// InsertRecords stores the records under runID in one transaction.
func (db *TrackDB) InsertRecords(ctx context.Context, runID string, records []*rsd.Record) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("trackdb: begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (
			run_id, file_offset, channel, seq, time_ms,
			lat, lon, depth_m,
			sample_count, sonar_offset, sonar_size,
			anomalous, checksum_mismatch, heuristic, extras
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("trackdb: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			runID, rec.Offset, rec.Channel, rec.Seq, rec.TimeMs,
			nullFloat(rec.Lat), nullFloat(rec.Lon), nullFloat(rec.Depth),
			rec.SampleCount, rec.SonarOffset, rec.SonarSize,
			boolInt(rec.Anomalous), boolInt(rec.ChecksumMismatch), boolInt(rec.Heuristic),
			rec.Extras.Encode(),
		)
		if err != nil {
			return fmt.Errorf("trackdb: insert record at 0x%X: %w", rec.Offset, err)
		}
	}
	return tx.Commit()
}

// InsertPairs stores the aligned block pairs for runID.
func (db *TrackDB) InsertPairs(ctx context.Context, runID string, pairs []waterfall.AlignedBlockPair) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("trackdb: begin pair insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO block_pairs (
			run_id, pair_index,
			left_start_seq, left_end_seq, right_start_seq, right_end_seq,
			shift_rows, confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("trackdb: prepare pair insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range pairs {
		var rStart, rEnd interface{}
		if p.Pair.Right != nil {
			rStart, rEnd = p.Pair.Right.StartSeq, p.Pair.Right.EndSeq
		}
		_, err := stmt.ExecContext(ctx,
			runID, i,
			p.Pair.Left.StartSeq, p.Pair.Left.EndSeq, rStart, rEnd,
			p.ShiftRows, p.Confidence,
		)
		if err != nil {
			return fmt.Errorf("trackdb: insert pair %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// RecordsForRun loads runID's records for one channel in sequence order.
// Samples are not stored, so SonarOffset/SonarSize locate them in the
// original log.
func (db *TrackDB) RecordsForRun(ctx context.Context, runID string, channel int) ([]*rsd.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT file_offset, channel, seq, time_ms,
		       lat, lon, depth_m,
		       sample_count, sonar_offset, sonar_size,
		       anomalous, checksum_mismatch, heuristic
		FROM records WHERE run_id = ? AND channel = ?
		ORDER BY seq
	`, runID, channel)
	if err != nil {
		return nil, fmt.Errorf("trackdb: query records: %w", err)
	}
	defer rows.Close()

	var out []*rsd.Record
	for rows.Next() {
		rec := &rsd.Record{}
		var lat, lon, depth sql.NullFloat64
		var anomalous, mismatch, heuristic int
		err := rows.Scan(
			&rec.Offset, &rec.Channel, &rec.Seq, &rec.TimeMs,
			&lat, &lon, &depth,
			&rec.SampleCount, &rec.SonarOffset, &rec.SonarSize,
			&anomalous, &mismatch, &heuristic,
		)
		if err != nil {
			return nil, fmt.Errorf("trackdb: scan record: %w", err)
		}
		if lat.Valid && lon.Valid {
			rec.SetFix(lat.Float64, lon.Float64)
		}
		if depth.Valid {
			rec.Depth = rsd.Ptr(depth.Float64)
		}
		rec.Anomalous = anomalous != 0
		rec.ChecksumMismatch = mismatch != 0
		rec.Heuristic = heuristic != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RunStats returns the stored counters for runID.
func (db *TrackDB) RunStats(runID string) (headers, decoded, skipped, flagged, fallbacks int, err error) {
	err = db.QueryRow(
		`SELECT headers, decoded, skipped, flagged, fallbacks FROM runs WHERE run_id = ?`,
		runID,
	).Scan(&headers, &decoded, &skipped, &flagged, &fallbacks)
	if err != nil {
		err = fmt.Errorf("trackdb: run %s: %w", runID, err)
	}
	return
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
