// Package monitor runs the reader loop: it keeps the link acquired, reads
// one line at a time, classifies it and routes the frame to the telemetry
// state, the time-series buffer and the parameter store.
package monitor

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/shaunagostinho/linedash/internal/frame"
	"github.com/shaunagostinho/linedash/internal/robot"
	"github.com/shaunagostinho/linedash/internal/telemetry"
)

// DefaultRetry is the pause between failed acquisition attempts.
const DefaultRetry = 500 * time.Millisecond

// LineSource is the connection side of the loop.
type LineSource interface {
	EnsureConnected(ctx context.Context) bool
	ReadLine() (string, bool)
}

// Stats counts frames by kind since start.
type Stats struct {
	Lines        uint64 `json:"lines"`
	Sensor       uint64 `json:"sensor"`
	Line         uint64 `json:"line"`
	PID          uint64 `json:"pid"`
	Parameter    uint64 `json:"parameter"`
	Unrecognized uint64 `json:"unrecognized"`
}

// Monitor is the only writer of State and Buffer.
type Monitor struct {
	src    LineSource
	state  *telemetry.State
	buf    *telemetry.Buffer
	params *robot.Store
	retry  time.Duration

	lines, sensor, line, pid, param, unrecognized atomic.Uint64
}

// New creates a monitor. params may be nil, in which case parameter
// responses are dropped.
func New(src LineSource, state *telemetry.State, buf *telemetry.Buffer, params *robot.Store) *Monitor {
	return &Monitor{
		src:    src,
		state:  state,
		buf:    buf,
		params: params,
		retry:  DefaultRetry,
	}
}

// Run loops until ctx is cancelled. Each iteration either reacquires the
// link (backing off on failure) or ingests at most one line.
func (m *Monitor) Run(ctx context.Context) {
	log.Printf("[monitor] reader loop started")
	defer log.Printf("[monitor] reader loop stopped")

	for ctx.Err() == nil {
		if !m.src.EnsureConnected(ctx) {
			t := time.NewTimer(m.retry)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			continue
		}
		line, ok := m.src.ReadLine()
		if !ok {
			continue
		}
		m.Ingest(line)
	}
}

// Ingest classifies one line and applies it. It returns the frame so
// callers (console echo, tests) can see what the line became.
func (m *Monitor) Ingest(line string) frame.Frame {
	m.lines.Add(1)
	f := frame.Classify(line)
	switch v := f.(type) {
	case frame.Sensor:
		m.sensor.Add(1)
		m.state.Apply(v)
	case frame.LinePosition:
		m.line.Add(1)
		m.state.Apply(v)
		m.buf.Record(telemetry.Some(v.Raw), telemetry.Reading{})
	case frame.PIDOutput:
		m.pid.Add(1)
		m.buf.Record(telemetry.Reading{}, telemetry.Some(v.Value))
	case frame.ParameterResponse:
		m.param.Add(1)
		if m.params != nil && !m.params.ApplyResponse(v.Name, v.Value) {
			log.Printf("[monitor] ignored parameter %s=%q", v.Name, v.Value)
		}
	default:
		m.unrecognized.Add(1)
	}
	return f
}

// Stats returns the current counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Lines:        m.lines.Load(),
		Sensor:       m.sensor.Load(),
		Line:         m.line.Load(),
		PID:          m.pid.Load(),
		Parameter:    m.param.Load(),
		Unrecognized: m.unrecognized.Load(),
	}
}
