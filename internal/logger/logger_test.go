package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/linedash/internal/telemetry"
)

func readCSV(t *testing.T, dir string) [][]string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "linedash_*.csv"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRecordRow(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 100})
	base := time.Date(2026, 5, 2, 14, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	snap := telemetry.Snapshot{
		SensorValues:   []int{100, 200, 150},
		MaxValueSeen:   200,
		LineRaw:        telemetry.Some(5),
		LineNormalized: 2.5,
	}
	win := telemetry.Window{
		Samples: []telemetry.Sample{
			{Time: 1.0, Line: telemetry.Some(4)},
			{Time: 1.5, Line: telemetry.Some(5)},
			{Time: 1.6, PID: telemetry.Some(77)},
		},
		TimeMin: 0,
		TimeMax: 1.6,
	}
	l.Record(snap, win)
	l.Close()

	rows := readCSV(t, dir)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{
		base.Format(time.RFC3339Nano), "1.600",
		"5", "2.5000", "5", "77",
		"200", "3", "100 200 150",
	}, rows[1])
}

func TestRecordHonorsInterval(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 100})
	now := time.Date(2026, 5, 2, 14, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	snap := telemetry.Snapshot{MaxValueSeen: 1}
	l.Record(snap, telemetry.Window{})
	now = now.Add(50 * time.Millisecond)
	l.Record(snap, telemetry.Window{})
	now = now.Add(60 * time.Millisecond)
	l.Record(snap, telemetry.Window{})
	l.Close()

	rows := readCSV(t, dir)
	assert.Len(t, rows, 3, "header plus two rows")
	assert.Equal(t, "", rows[1][2], "absent line position")
}

func TestDisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Path: dir})
	assert.False(t, l.IsEnabled())
	l.Record(telemetry.Snapshot{}, telemetry.Window{})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	l.SetEnabled(true)
	assert.True(t, l.IsEnabled())
}

func TestDefaults(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, "/var/log/linedash", l.dir)
	assert.Equal(t, 100*time.Millisecond, l.interval)
}
