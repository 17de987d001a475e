package main

import (
	"context"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/greenloop/p2pbridge"
	"github.com/greenloop/p2pbridge/internal/api"
	"github.com/greenloop/p2pbridge/internal/config"
	"github.com/greenloop/p2pbridge/internal/db"
	"github.com/greenloop/p2pbridge/internal/httputil"
	"github.com/greenloop/p2pbridge/internal/monitoring"
	"github.com/greenloop/p2pbridge/internal/sequencer"
	"github.com/greenloop/p2pbridge/internal/serialmux"
	"github.com/greenloop/p2pbridge/internal/servo"
	"github.com/greenloop/p2pbridge/internal/telemetry"
	"github.com/greenloop/p2pbridge/internal/timeutil"
)

var (
	devMode       = flag.Bool("dev", false, "Run in dev mode (replay fixture lines instead of opening the serial port)")
	disableSerial = flag.Bool("disable-serial", false, "Run without any serial device")
	listen        = flag.String("listen", ":8080", "Listen address")
	port          = flag.String("port", "", "Serial port to use (overrides config; ignored in dev mode)")
	dbFile        = flag.String("db", "bridge_data.db", "Path to the sqlite database")
	configPath    = flag.String("config", "", "Path to a JSON config file")
	fixturesPath  = flag.String("fixtures", "fixtures.txt", "Fixture file replayed in dev mode")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	serialPort := cfg.GetSerialPort()
	if *port != "" {
		serialPort = *port
	}

	var mux serialmux.SerialMuxInterface
	switch {
	case *disableSerial:
		mux = serialmux.NewDisabledSerialMux()
	case *devMode:
		data, err := os.ReadFile(*fixturesPath)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		mux = serialmux.NewMockSerialMux([]byte(lines[0] + "\n"))
	default:
		if serialPort == "" {
			log.Fatal("Serial port is required (set -port, the config file, or " + config.EnvSerialPort + ")")
		}
		opts := serialmux.PortOptions{BaudRate: cfg.GetBaudRate()}
		mux, err = serialmux.NewRealSerialMux(serialPort, opts)
		if err != nil {
			log.Fatalf("failed to open serial port: %v", err)
		}
	}
	defer mux.Close()

	if err := mux.Initialize(); err != nil {
		log.Fatalf("failed to initialize device: %v", err)
	}

	clock := timeutil.RealClock{}
	metrics := monitoring.NewMetrics()

	database, err := db.NewDB(*dbFile, clock)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	sessionID := uuid.NewString()
	if err := database.StartSession(sessionID, cfg.GetDeviceID()); err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	log.Printf("started session %s for device %s", sessionID, cfg.GetDeviceID())

	sweeper := servo.NewSweeper(mux, servo.Config{
		Rest:        cfg.GetServoRest(),
		Sweep:       cfg.GetServoSweep(),
		Return:      cfg.GetServoReturn(),
		Hold:        cfg.GetServoHold(),
		MinInterval: cfg.GetSweepMinInterval(),
	}, clock)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry is optional: without a sink URL the bridge runs fully local.
	// The snapshot closure resolves through the seq variable, which is
	// assigned before the pusher starts.
	var seq *sequencer.Sequencer
	var pusher *telemetry.Pusher
	var publisher sequencer.Publisher
	var syncReporter api.SyncReporter
	if url := cfg.GetFirebaseURL(); url != "" {
		client := telemetry.NewClient(url, cfg.GetDeviceID(), httputil.NewStandardClient(nil))
		pusher = telemetry.NewPusher(client, cfg.GetTelemetryInterval(),
			func() sequencer.Snapshot { return seq.Snapshot() }, database, metrics, clock)
		publisher = pusher
		syncReporter = pusher
		log.Printf("telemetry enabled: %s", client.URL())
	} else {
		log.Print("no telemetry sink configured, running local-only")
	}

	seq = sequencer.New(sequencer.Config{
		Cooldown:        cfg.GetCooldown(),
		PointsPerBottle: cfg.GetPointsPerBottle(),
		DeviceID:        cfg.GetDeviceID(),
		SessionID:       sessionID,
	}, sweeper, publisher, database, metrics, clock)

	if pusher != nil {
		pusher.Start(ctx)
	}

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mux.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// subscribe to the serial port messages and feed them to the state machine
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := mux.Subscribe()
		defer mux.Unsubscribe(id)
		for {
			select {
			case line, ok := <-c:
				if !ok {
					log.Print("subscribe channel closed")
					return
				}
				seq.HandleLine(line)
			case <-ctx.Done():
				log.Print("subscribe routine terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		httpMux := api.NewServer(mux, database, seq, sweeper, syncReporter, cfg, clock).ServeMux()

		mux.AttachAdminRoutes(httpMux)
		if err := database.AttachAdminRoutes(httpMux); err != nil {
			log.Printf("failed to attach db admin routes: %v", err)
		}
		httpMux.Handle("/metrics", metrics.Handler())

		// read static files from the embedded filesystem in production or from
		// the local ./static in dev for easier iteration without restarting
		// the server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			staticFS, err := fs.Sub(p2pbridge.StaticFiles, "static")
			if err != nil {
				log.Fatalf("failed to open embedded static files: %v", err)
			}
			staticHandler = http.FileServer(http.FS(staticFS))
		}
		httpMux.Handle("/static/", http.StripPrefix("/static", staticHandler))

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(httpMux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
