// Package db persists detection history, sweep events, and telemetry push
// outcomes to a local sqlite database. The remote sink only ever holds the
// latest snapshot; this is the durable record.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/greenloop/p2pbridge/internal/monitoring"
	"github.com/greenloop/p2pbridge/internal/timeutil"
)

type DB struct {
	*sql.DB
	clock     timeutil.Clock
	sessionID string
}

// NewDB opens (creating if needed) the sqlite database at path and applies
// any pending schema migrations.
func NewDB(path string, clock timeutil.Clock) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db := &DB{DB: sqlDB, clock: clock}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("applying schema migrations: %w", err)
	}
	return db, nil
}

// StartSession records a new session row and tags all subsequent writes
// through this handle with its id.
func (db *DB) StartSession(sessionID, device string) error {
	_, err := db.Exec(
		"INSERT INTO sessions (session_id, device, started_at) VALUES (?, ?, ?)",
		sessionID, device, db.clock.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording session start: %w", err)
	}
	db.sessionID = sessionID
	return nil
}

// RecordDetection stores an accepted detection with the running count and
// score at the time it was accepted.
func (db *DB) RecordDetection(count, points int) error {
	_, err := db.Exec(
		"INSERT INTO detections (session_id, bottle_count, total_points, detected_at) VALUES (?, ?, ?, ?)",
		db.sessionID, count, points, db.clock.Now().Unix(),
	)
	return err
}

// RecordSweep stores a sweep event. reason is "detection" for sweeps the
// state machine triggered and "manual" for operator-forced ones.
func (db *DB) RecordSweep(reason string) error {
	_, err := db.Exec(
		"INSERT INTO sweeps (session_id, reason, swept_at) VALUES (?, ?, ?)",
		db.sessionID, reason, db.clock.Now().Unix(),
	)
	return err
}

// RecordPush stores a telemetry push outcome.
func (db *DB) RecordPush(action string, ok bool) error {
	_, err := db.Exec(
		"INSERT INTO telemetry_log (session_id, action, ok, pushed_at) VALUES (?, ?, ?, ?)",
		db.sessionID, action, ok, db.clock.Now().Unix(),
	)
	return err
}

// Detection is one accepted detection row.
type Detection struct {
	SessionID   string    `json:"session_id"`
	BottleCount int       `json:"bottle_count"`
	TotalPoints int       `json:"total_points"`
	DetectedAt  time.Time `json:"detected_at"`
}

// RecentDetections returns the most recent detections, newest first.
func (db *DB) RecentDetections(limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		"SELECT session_id, bottle_count, total_points, detected_at FROM detections ORDER BY detected_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detections []Detection
	for rows.Next() {
		var d Detection
		var at int64
		if err := rows.Scan(&d.SessionID, &d.BottleCount, &d.TotalPoints, &at); err != nil {
			return nil, err
		}
		d.DetectedAt = time.Unix(at, 0).UTC()
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return detections, nil
}

// BucketCount is a detection count aggregated into a time bucket.
type BucketCount struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

// HourlyCounts returns per-hour detection counts since the given time.
func (db *DB) HourlyCounts(since time.Time) ([]BucketCount, error) {
	return db.bucketCounts("%Y-%m-%d %H:00", since)
}

// DailyCounts returns per-day detection counts since the given time.
func (db *DB) DailyCounts(since time.Time) ([]BucketCount, error) {
	return db.bucketCounts("%Y-%m-%d", since)
}

func (db *DB) bucketCounts(format string, since time.Time) ([]BucketCount, error) {
	rows, err := db.Query(
		`SELECT strftime(?, detected_at, 'unixepoch') AS bucket, COUNT(*)
		 FROM detections WHERE detected_at >= ?
		 GROUP BY bucket ORDER BY bucket`,
		format, since.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []BucketCount
	for rows.Next() {
		var b BucketCount
		if err := rows.Scan(&b.Bucket, &b.Count); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return buckets, nil
}

// AttachAdminRoutes mounts the live SQL console and backup download under
// the tsweb debug handler.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("creating tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://bridge.db", db.DB, &tailsql.DBOptions{
		Label: "Bridge DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", db.clock.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("removing backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			monitoring.Logf("streaming backup: %v", err)
		}
	}))

	return nil
}
