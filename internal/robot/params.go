package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/shaunagostinho/linedash/internal/frame"
)

// Parameters is the operator-side parameter set. Every field is optional so
// that a partial file or request only touches what it names. Unknown JSON
// keys are ignored.
type Parameters struct {
	PIDP       *float64 `json:"pid_p,omitempty"`
	PIDI       *float64 `json:"pid_i,omitempty"`
	PIDD       *float64 `json:"pid_d,omitempty"`
	MotorSpeed *float64 `json:"motor_speed,omitempty"`

	PIDPMax       *float64 `json:"pid_p_max,omitempty"`
	PIDIMax       *float64 `json:"pid_i_max,omitempty"`
	PIDDMax       *float64 `json:"pid_d_max,omitempty"`
	MotorSpeedMax *float64 `json:"motor_speed_max,omitempty"`

	TimeWindow    *float64 `json:"time_window,omitempty"`
	TimeWindowMax *float64 `json:"time_window_max,omitempty"`

	LogP *bool `json:"log_p,omitempty"`
	LogI *bool `json:"log_i,omitempty"`
	LogD *bool `json:"log_d,omitempty"`
	LogS *bool `json:"log_s,omitempty"`
	LogL *bool `json:"log_l,omitempty"`
	LogO *bool `json:"log_o,omitempty"`
}

// Float returns a pointer to v, for building Parameters literals.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// DefaultParameters matches the control panel's initial state.
func DefaultParameters() Parameters {
	return Parameters{
		PIDP:          Float(0),
		PIDI:          Float(0),
		PIDD:          Float(0),
		MotorSpeed:    Float(0),
		PIDPMax:       Float(100),
		PIDIMax:       Float(100),
		PIDDMax:       Float(100),
		MotorSpeedMax: Float(255),
		TimeWindow:    Float(10),
		TimeWindowMax: Float(60),
		LogP:          Bool(false),
		LogI:          Bool(false),
		LogD:          Bool(false),
		LogS:          Bool(false),
		LogL:          Bool(false),
		LogO:          Bool(false),
	}
}

// Merge returns p with every field set in o overriding it.
func (p Parameters) Merge(o Parameters) Parameters {
	setF := func(dst **float64, src *float64) {
		if src != nil {
			*dst = Float(*src)
		}
	}
	setB := func(dst **bool, src *bool) {
		if src != nil {
			*dst = Bool(*src)
		}
	}
	setF(&p.PIDP, o.PIDP)
	setF(&p.PIDI, o.PIDI)
	setF(&p.PIDD, o.PIDD)
	setF(&p.MotorSpeed, o.MotorSpeed)
	setF(&p.PIDPMax, o.PIDPMax)
	setF(&p.PIDIMax, o.PIDIMax)
	setF(&p.PIDDMax, o.PIDDMax)
	setF(&p.MotorSpeedMax, o.MotorSpeedMax)
	setF(&p.TimeWindow, o.TimeWindow)
	setF(&p.TimeWindowMax, o.TimeWindowMax)
	setB(&p.LogP, o.LogP)
	setB(&p.LogI, o.LogI)
	setB(&p.LogD, o.LogD)
	setB(&p.LogS, o.LogS)
	setB(&p.LogL, o.LogL)
	setB(&p.LogO, o.LogO)
	return p
}

// clone deep-copies every pointer so callers never share storage.
func (p Parameters) clone() Parameters {
	return Parameters{}.Merge(p)
}

// Store holds the current Parameters. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	p  Parameters
}

// NewStore creates a store seeded with initial.
func NewStore(initial Parameters) *Store {
	return &Store{p: initial.clone()}
}

// Get returns a copy of the current parameters.
func (s *Store) Get() Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p.clone()
}

// Set replaces the current parameters.
func (s *Store) Set(p Parameters) {
	s.mu.Lock()
	s.p = p.clone()
	s.mu.Unlock()
}

// Update merges the fields set in p and returns the result.
func (s *Store) Update(p Parameters) Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = s.p.Merge(p)
	return s.p.clone()
}

// ApplyResponse records a value reported by the robot. It returns false for
// unknown names and values that are not numbers.
func (s *Store) ApplyResponse(name, value string) bool {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}
	var p Parameters
	switch name {
	case frame.ParamPIDP:
		p.PIDP = &v
	case frame.ParamPIDI:
		p.PIDI = &v
	case frame.ParamPIDD:
		p.PIDD = &v
	case frame.ParamMotorSpeed:
		p.MotorSpeed = &v
	default:
		return false
	}
	s.Update(p)
	return true
}

// LoadFile reads a JSON parameter file. Missing keys stay nil.
func LoadFile(path string) (Parameters, error) {
	var p Parameters
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("robot: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("robot: parse %s: %w", path, err)
	}
	return p, nil
}

// SaveFile writes p as indented JSON.
func SaveFile(path string, p Parameters) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("robot: marshal: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("robot: write %s: %w", path, err)
	}
	return nil
}
