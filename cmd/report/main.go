// Command report renders a detection activity chart from the bridge's local
// database. It is an offline tool: point it at the sqlite file and it writes
// a PNG of daily detection counts, optionally printing summary statistics
// for a single session.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "modernc.org/sqlite"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/greenloop/p2pbridge/internal/db"
	"github.com/greenloop/p2pbridge/internal/timeutil"
)

var (
	dbFile  = flag.String("db", "bridge_data.db", "Path to the sqlite database")
	days    = flag.Int("days", 7, "Number of days to include")
	outFile = flag.String("out", "detections.png", "Output PNG path")
	session = flag.String("session", "", "Session id to summarize (optional)")
)

func main() {
	flag.Parse()

	if *days < 1 {
		log.Fatal("days must be at least 1")
	}
	if _, err := os.Stat(*dbFile); err != nil {
		log.Fatalf("database not found: %v", err)
	}

	database, err := db.NewDB(*dbFile, timeutil.RealClock{})
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	since := time.Now().AddDate(0, 0, -*days)
	buckets, err := database.DailyCounts(since)
	if err != nil {
		log.Fatalf("failed to query daily counts: %v", err)
	}
	if len(buckets) == 0 {
		log.Fatalf("no detections recorded since %s", since.Format("2006-01-02"))
	}

	if err := renderChart(buckets, *outFile); err != nil {
		log.Fatalf("failed to render chart: %v", err)
	}
	log.Printf("wrote %s (%d days, %d buckets)", *outFile, *days, len(buckets))

	if *session != "" {
		stats, err := database.SessionStats(*session)
		if err != nil {
			log.Fatalf("failed to query session stats: %v", err)
		}
		printStats(stats)
	}
}

func renderChart(buckets []db.BucketCount, path string) error {
	values := make(plotter.Values, len(buckets))
	labels := make([]string, len(buckets))
	for i, b := range buckets {
		values[i] = float64(b.Count)
		labels[i] = b.Bucket
	}

	p := plot.New()
	p.Title.Text = "Bottle Detections per Day"
	p.Y.Label.Text = "detections"

	bars, err := plotter.NewBarChart(values, vg.Points(30))
	if err != nil {
		return err
	}
	bars.LineStyle.Width = vg.Length(0)

	p.Add(bars)
	p.NominalX(labels...)

	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}

func printStats(stats *db.SessionStats) {
	fmt.Printf("session %s\n", stats.SessionID)
	fmt.Printf("  detections:   %d\n", stats.Detections)
	fmt.Printf("  total points: %d\n", stats.TotalPoints)
	fmt.Printf("  sweeps:       %d\n", stats.Sweeps)
	if stats.Detections > 0 {
		fmt.Printf("  first:        %s\n", stats.FirstDetection.Format(time.RFC3339))
		fmt.Printf("  last:         %s\n", stats.LastDetection.Format(time.RFC3339))
	}
	if stats.Detections > 1 {
		fmt.Printf("  gap mean/p50/p90: %.1fs / %.1fs / %.1fs\n",
			stats.MeanGapSec, stats.P50GapSec, stats.P90GapSec)
	}
}
