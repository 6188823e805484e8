package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/linedash/internal/frame"
)

func TestNewStateDefaults(t *testing.T) {
	snap := NewState().Snapshot()
	assert.Empty(t, snap.SensorValues)
	assert.Equal(t, 1, snap.MaxValueSeen)
	assert.False(t, snap.LineRaw.Valid)
}

func TestStateSensorReplacesWholesale(t *testing.T) {
	s := NewState()
	s.Apply(frame.Sensor{Values: []int{1, 2, 3, 4}})
	s.Apply(frame.Sensor{Values: []int{9, 8}})
	assert.Equal(t, []int{9, 8}, s.Snapshot().SensorValues)
}

func TestStateWatermarkNeverDecreases(t *testing.T) {
	s := NewState()
	s.Apply(frame.Sensor{Values: []int{5}})
	s.Apply(frame.Sensor{Values: []int{2}})
	assert.Equal(t, 5, s.Snapshot().MaxValueSeen)

	s.Apply(frame.Sensor{Values: []int{0, 0}})
	assert.Equal(t, 5, s.Snapshot().MaxValueSeen)

	s.Apply(frame.Sensor{Values: []int{3, 700}})
	assert.Equal(t, 700, s.Snapshot().MaxValueSeen)
}

func TestStateWatermarkStartsAtOne(t *testing.T) {
	s := NewState()
	s.Apply(frame.Sensor{Values: []int{0, 0, 0}})
	assert.Equal(t, 1, s.Snapshot().MaxValueSeen)
}

func TestStateLinePositionClamped(t *testing.T) {
	s := NewState()
	for v := -200; v <= 200; v++ {
		s.Apply(frame.LinePosition{Raw: v})
		got := s.Snapshot().LineRaw
		require.True(t, got.Valid)
		want := v
		if want > LineMax {
			want = LineMax
		}
		if want < LineMin {
			want = LineMin
		}
		assert.Equal(t, want, got.Value, "raw %d", v)
	}
}

func TestStateNormalization(t *testing.T) {
	tests := []struct {
		name    string
		sensors []int
		raw     int
		want    float64
	}{
		{"no sensors uses percent fallback", nil, 50, 0.5},
		{"no sensors clamps high", nil, 127, 1},
		{"no sensors clamps low", nil, -40, 0},
		{"index across six sensors", []int{1, 1, 1, 1, 1, 1}, 5, 1},
		{"index across three sensors", []int{1, 1, 1}, 1, 0.5},
		{"single sensor divides by one", []int{7}, 3, 3},
		{"signed metric leaves unit range", []int{1, 1, 1}, -10, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			if tt.sensors != nil {
				s.Apply(frame.Sensor{Values: tt.sensors})
			}
			s.Apply(frame.LinePosition{Raw: tt.raw})
			assert.InDelta(t, tt.want, s.Snapshot().LineNormalized, 1e-9)
		})
	}
}

func TestStateRenormalizesOnSensorChange(t *testing.T) {
	s := NewState()
	s.Apply(frame.LinePosition{Raw: 4})
	assert.InDelta(t, 0.04, s.Snapshot().LineNormalized, 1e-9)

	s.Apply(frame.Sensor{Values: []int{1, 1, 1, 1, 1}})
	assert.InDelta(t, 1.0, s.Snapshot().LineNormalized, 1e-9)

	s.Apply(frame.Sensor{Values: []int{1, 1, 1}})
	assert.InDelta(t, 2.0, s.Snapshot().LineNormalized, 1e-9)
}

func TestStateIgnoresOtherFrames(t *testing.T) {
	s := NewState()
	s.Apply(frame.Sensor{Values: []int{10, 20}})
	before := s.Snapshot()

	s.Apply(frame.PIDOutput{Value: 99})
	s.Apply(frame.ParameterResponse{Name: frame.ParamPIDP, Value: "1"})
	s.Apply(frame.Unrecognized{Line: "garbage!!"})
	s.Apply(frame.Sensor{})

	assert.Equal(t, before, s.Snapshot())
}

func TestStateSnapshotIsCopy(t *testing.T) {
	s := NewState()
	in := []int{1, 2, 3}
	s.Apply(frame.Sensor{Values: in})
	in[0] = 100

	snap := s.Snapshot()
	snap.SensorValues[1] = 200

	assert.Equal(t, []int{1, 2, 3}, s.Snapshot().SensorValues)
}

func TestStateWatermarkSurvivesSmallerFrames(t *testing.T) {
	s := NewState()
	s.Apply(frame.Sensor{Values: []int{5}})
	s.Apply(frame.Sensor{Values: []int{2}})
	snap := s.Snapshot()
	assert.Equal(t, 5, snap.MaxValueSeen)
	assert.Equal(t, []int{2}, snap.SensorValues)
}

func TestSnapshotJSONLineAbsent(t *testing.T) {
	s := NewState()
	s.Apply(frame.Sensor{Values: []int{1, 2, 3}})
	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{"sensorValues":[1,2,3],"maxValueSeen":3,"lineRaw":null,"lineNormalized":null}`, string(data))

	s.Apply(frame.LinePosition{Raw: 1})
	data, err = json.Marshal(s.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{"sensorValues":[1,2,3],"maxValueSeen":3,"lineRaw":1,"lineNormalized":0.5}`, string(data))

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s.Snapshot(), back)
}

func TestReadingJSON(t *testing.T) {
	data, err := json.Marshal([]Reading{Some(-3), {}})
	require.NoError(t, err)
	assert.JSONEq(t, `[-3, null]`, string(data))
}

func TestReadingUnmarshal(t *testing.T) {
	var got []Reading
	require.NoError(t, json.Unmarshal([]byte(`[7, null]`), &got))
	assert.Equal(t, []Reading{Some(7), {}}, got)

	var r Reading
	assert.Error(t, json.Unmarshal([]byte(`"x"`), &r))
}
