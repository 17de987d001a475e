package db

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// SessionStats summarizes a session's detection activity. The gap statistics
// describe the spacing between consecutive accepted detections and need at
// least two detections to be meaningful; with fewer they are zero.
type SessionStats struct {
	SessionID      string    `json:"session_id"`
	Detections     int       `json:"detections"`
	TotalPoints    int       `json:"total_points"`
	Sweeps         int       `json:"sweeps"`
	FirstDetection time.Time `json:"first_detection,omitzero"`
	LastDetection  time.Time `json:"last_detection,omitzero"`
	MeanGapSec     float64   `json:"mean_gap_sec"`
	P50GapSec      float64   `json:"p50_gap_sec"`
	P90GapSec      float64   `json:"p90_gap_sec"`
}

// SessionStats computes the summary for one session.
func (db *DB) SessionStats(sessionID string) (*SessionStats, error) {
	stats := &SessionStats{SessionID: sessionID}

	rows, err := db.Query(
		"SELECT detected_at FROM detections WHERE session_id = ? ORDER BY detected_at",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []int64
	for rows.Next() {
		var at int64
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		times = append(times, at)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.Detections = len(times)
	if len(times) > 0 {
		stats.FirstDetection = time.Unix(times[0], 0).UTC()
		stats.LastDetection = time.Unix(times[len(times)-1], 0).UTC()
	}

	err = db.QueryRow(
		"SELECT COALESCE(MAX(total_points), 0) FROM detections WHERE session_id = ?",
		sessionID,
	).Scan(&stats.TotalPoints)
	if err != nil {
		return nil, err
	}

	err = db.QueryRow(
		"SELECT COUNT(*) FROM sweeps WHERE session_id = ?",
		sessionID,
	).Scan(&stats.Sweeps)
	if err != nil {
		return nil, err
	}

	if gaps := detectionGaps(times); len(gaps) > 0 {
		sort.Float64s(gaps)
		stats.MeanGapSec = stat.Mean(gaps, nil)
		stats.P50GapSec = stat.Quantile(0.5, stat.Empirical, gaps, nil)
		stats.P90GapSec = stat.Quantile(0.9, stat.Empirical, gaps, nil)
	}

	return stats, nil
}

// detectionGaps returns the spacing in seconds between consecutive detection
// timestamps. times must be sorted ascending.
func detectionGaps(times []int64) []float64 {
	if len(times) < 2 {
		return nil
	}
	gaps := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, float64(times[i]-times[i-1]))
	}
	return gaps
}
