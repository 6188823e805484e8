package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shaunagostinho/linedash/internal/telemetry"
)

// Logger samples the telemetry state into CSV files with automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int

	now func() time.Time
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // ~2.7 hrs at 10 Hz
)

var csvHeader = []string{
	"timestamp", "rel_time_s",
	"line_raw", "line_normalized", "line_sample", "pid_output",
	"max_value_seen", "sensor_count", "sensors",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/linedash"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 20*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		now:      time.Now,
	}
}

// SetEnabled toggles logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes one row if the minimum interval has elapsed. latest is the
// most recent L and O samples of the plot window (either may be absent).
func (l *Logger) Record(snap telemetry.Snapshot, latest telemetry.Window) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	now := l.now()
	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(now, snap, latest)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("linedash_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, s telemetry.Snapshot, w telemetry.Window) []string {
	row := make([]string, len(csvHeader))
	row[0] = ts.Format(time.RFC3339Nano)
	row[1] = fmt.Sprintf("%.3f", w.TimeMax)

	if s.LineRaw.Valid {
		row[2] = strconv.Itoa(s.LineRaw.Value)
		row[3] = fmt.Sprintf("%.4f", s.LineNormalized)
	}

	// Newest sample carrying each series.
	for i := len(w.Samples) - 1; i >= 0 && (row[4] == "" || row[5] == ""); i-- {
		smp := w.Samples[i]
		if row[4] == "" && smp.Line.Valid {
			row[4] = strconv.Itoa(smp.Line.Value)
		}
		if row[5] == "" && smp.PID.Valid {
			row[5] = strconv.Itoa(smp.PID.Value)
		}
	}

	row[6] = strconv.Itoa(s.MaxValueSeen)
	row[7] = strconv.Itoa(len(s.SensorValues))
	vals := make([]string, len(s.SensorValues))
	for i, v := range s.SensorValues {
		vals[i] = strconv.Itoa(v)
	}
	row[8] = strings.Join(vals, " ")
	return row
}
