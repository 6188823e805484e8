// Package telemetry holds the rolling robot state shared between the serial
// reader loop and the render tick: the latest sensor/line snapshot and the
// bounded L/O time series.
package telemetry

import (
	"encoding/json"
	"sync"

	"github.com/shaunagostinho/linedash/internal/frame"
)

// Line position bounds reported by the robot.
const (
	LineMin = -127
	LineMax = 127
)

// Reading is an optional integer value.
type Reading struct {
	Value int
	Valid bool
}

// Some returns a valid Reading holding v.
func Some(v int) Reading { return Reading{Value: v, Valid: true} }

// MarshalJSON encodes an absent reading as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// UnmarshalJSON accepts an integer or null.
func (r *Reading) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Reading{}
		return nil
	}
	if err := json.Unmarshal(data, &r.Value); err != nil {
		return err
	}
	r.Valid = true
	return nil
}

// Snapshot is a read-only copy of the telemetry state.
type Snapshot struct {
	SensorValues []int   `json:"sensorValues"`
	MaxValueSeen int     `json:"maxValueSeen"` // Watermark for graph scaling
	LineRaw      Reading `json:"lineRaw"`      // Clamped to [-127,127]
	// LineNormalized is meaningful only when LineRaw.Valid.
	LineNormalized float64 `json:"lineNormalized"`
}

// State is the latest sensor array and line position. Apply is the only
// mutator; Snapshot returns a deep copy.
type State struct {
	mu             sync.RWMutex
	sensors        []int
	maxSeen        int
	lineRaw        Reading
	lineNormalized float64
}

// NewState returns an empty state with the watermark at 1.
func NewState() *State {
	return &State{maxSeen: 1}
}

// Apply folds one frame into the state. Frames other than Sensor and
// LinePosition have no effect.
func (s *State) Apply(f frame.Frame) {
	switch f := f.(type) {
	case frame.Sensor:
		if len(f.Values) == 0 {
			return
		}
		vals := make([]int, len(f.Values))
		copy(vals, f.Values)

		s.mu.Lock()
		s.sensors = vals
		for _, v := range vals {
			if v > s.maxSeen {
				s.maxSeen = v
			}
		}
		s.renormalize()
		s.mu.Unlock()

	case frame.LinePosition:
		s.mu.Lock()
		s.lineRaw = Some(clamp(f.Raw, LineMin, LineMax))
		s.renormalize()
		s.mu.Unlock()
	}
}

// renormalize recomputes the normalized line position from the stored raw
// value and the current sensor count. Must be called with s.mu held.
//
// The divisor treats raw as a sensor index, so a signed position metric
// yields values outside [0,1]. This matches what the firmware tooling has
// always displayed.
func (s *State) renormalize() {
	if !s.lineRaw.Valid {
		return
	}
	raw := float64(s.lineRaw.Value)
	if n := len(s.sensors); n > 0 {
		s.lineNormalized = raw / float64(max(n-1, 1))
		return
	}
	s.lineNormalized = min(max(raw/100, 0), 1)
}

// MarshalJSON encodes LineNormalized as null until a line position has
// been received, matching LineRaw.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	out := struct {
		plain
		LineNormalized *float64 `json:"lineNormalized"`
	}{plain: plain(s)}
	if s.LineRaw.Valid {
		v := s.LineNormalized
		out.LineNormalized = &v
	}
	return json.Marshal(out)
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vals := make([]int, len(s.sensors))
	copy(vals, s.sensors)
	return Snapshot{
		SensorValues:   vals,
		MaxValueSeen:   s.maxSeen,
		LineRaw:        s.lineRaw,
		LineNormalized: s.lineNormalized,
	}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
