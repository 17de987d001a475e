// Package api exposes the bridge's HTTP control surface: state inspection,
// manual servo control, session reset, and detection history.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/greenloop/p2pbridge/internal/config"
	"github.com/greenloop/p2pbridge/internal/db"
	"github.com/greenloop/p2pbridge/internal/httputil"
	"github.com/greenloop/p2pbridge/internal/sequencer"
	"github.com/greenloop/p2pbridge/internal/serialmux"
	"github.com/greenloop/p2pbridge/internal/servo"
	"github.com/greenloop/p2pbridge/internal/timeutil"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// SyncReporter reports the last successful telemetry push. Nil when the
// remote sink is not configured.
type SyncReporter interface {
	LastSync() time.Time
}

type Server struct {
	m       serialmux.SerialMuxInterface
	db      *db.DB
	seq     *sequencer.Sequencer
	sweeper *servo.Sweeper
	sync    SyncReporter
	cfg     *config.BridgeConfig
	clock   timeutil.Clock
}

func NewServer(m serialmux.SerialMuxInterface, database *db.DB, seq *sequencer.Sequencer, sweeper *servo.Sweeper, sync SyncReporter, cfg *config.BridgeConfig, clock timeutil.Clock) *Server {
	return &Server{
		m:       m,
		db:      database,
		seq:     seq,
		sweeper: sweeper,
		sync:    sync,
		cfg:     cfg,
		clock:   clock,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/command", s.sendCommandHandler)
	mux.HandleFunc("/api/reset", s.resetHandler)
	mux.HandleFunc("/api/servo", s.servoHandler)
	mux.HandleFunc("/api/sweep", s.sweepHandler)
	mux.HandleFunc("/api/detections", s.listDetections)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/chart", s.detectionChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSONError(w, status, msg)
}

type statusResponse struct {
	sequencer.Snapshot
	Sweeping bool   `json:"sweeping"`
	LastSync string `json:"last_sync,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := statusResponse{
		Snapshot: s.seq.Snapshot(),
		Sweeping: s.sweeper.Sweeping(),
	}
	if s.sync != nil {
		if last := s.sync.LastSync(); !last.IsZero() {
			resp.LastSync = last.UTC().Format(time.RFC3339)
		}
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

// sendCommandHandler passes a raw line to the firmware, bypassing the state
// machine. Useful for poking at the device during bring-up.
func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")

	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.seq.Reset()
	json.NewEncoder(w).Encode(s.seq.Snapshot())
}

func (s *Server) servoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	angle, err := strconv.Atoi(r.FormValue("angle"))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'angle' parameter")
		return
	}
	if err := s.seq.Override(angle); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Servo move rejected: %v", err))
		return
	}
	json.NewEncoder(w).Encode(s.seq.Snapshot())
}

func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.seq.ForceSweep()
	json.NewEncoder(w).Encode(s.seq.Snapshot())
}

func (s *Server) listDetections(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	detections, err := s.db.RecentDetections(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve detections: %v", err))
		return
	}
	if detections == nil {
		detections = []db.Detection{}
	}

	if err := json.NewEncoder(w).Encode(detections); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write detections")
		return
	}
}

// showConfig echoes the effective tuning values after defaults and overrides
// have been applied.
func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	effective := map[string]interface{}{
		"cooldown":           s.cfg.GetCooldown().String(),
		"points_per_bottle":  s.cfg.GetPointsPerBottle(),
		"servo_rest":         s.cfg.GetServoRest(),
		"servo_sweep":        s.cfg.GetServoSweep(),
		"servo_return":       s.cfg.GetServoReturn(),
		"servo_hold":         s.cfg.GetServoHold().String(),
		"sweep_min_interval": s.cfg.GetSweepMinInterval().String(),
		"telemetry_interval": s.cfg.GetTelemetryInterval().String(),
		"device_id":          s.cfg.GetDeviceID(),
		"baud_rate":          s.cfg.GetBaudRate(),
	}

	if err := json.NewEncoder(w).Encode(effective); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}

type statsResponse struct {
	Session *db.SessionStats `json:"session"`
	Daily   []db.BucketCount `json:"daily"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	days := 1 // default value
	if d := r.URL.Query().Get("days"); d != "" {
		parsedDays, err := strconv.Atoi(d)
		if err != nil || parsedDays < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'days' parameter")
			return
		}
		days = parsedDays
	}

	session, err := s.db.SessionStats(s.seq.Snapshot().SessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve session stats: %v", err))
		return
	}

	since := s.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	daily, err := s.db.DailyCounts(since)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve daily counts: %v", err))
		return
	}
	if daily == nil {
		daily = []db.BucketCount{}
	}

	if err := json.NewEncoder(w).Encode(statsResponse{Session: session, Daily: daily}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
		return
	}
}
