// Package frame classifies raw telemetry lines from the robot into typed frames.
//
// The robot streams newline-terminated ASCII:
//
//	S,968,973,853,894   sensor array (one or more non-negative integers)
//	L,-3                line position
//	O,120               PID output
//	pid p 1.250         parameter report
//	motor speed 100     parameter report
//
// Every line maps to exactly one Frame. Malformed payloads never error; they
// classify as Unrecognized and are dropped by the consumer.
package frame

import (
	"math"
	"strconv"
	"strings"
)

// Frame is one classified line. The concrete type is one of Sensor,
// LinePosition, PIDOutput, ParameterResponse or Unrecognized.
type Frame interface {
	isFrame()
}

// Sensor carries the full sensor array of one sample.
type Sensor struct {
	Values []int
}

// LinePosition carries the unclamped signed line position.
type LinePosition struct {
	Raw int
}

// PIDOutput carries the controller output.
type PIDOutput struct {
	Value int
}

// ParameterResponse is a parameter report such as "pid p 1.5".
// Name is one of the Param* constants; Value is the token as received.
type ParameterResponse struct {
	Name  string
	Value string
}

// Unrecognized is any line that matched no other shape.
type Unrecognized struct {
	Line string
}

func (Sensor) isFrame()            {}
func (LinePosition) isFrame()      {}
func (PIDOutput) isFrame()         {}
func (ParameterResponse) isFrame() {}
func (Unrecognized) isFrame()      {}

// Parameter names reported in ParameterResponse.Name.
const (
	ParamPIDP       = "pid_p"
	ParamPIDI       = "pid_i"
	ParamPIDD       = "pid_d"
	ParamMotorSpeed = "motor_speed"
)

// Classify maps a single line to its frame. Shapes are tried in a fixed
// order: sensor, line position, PID output, parameter response.
func Classify(line string) Frame {
	line = strings.TrimSpace(line)
	if line == "" {
		return Unrecognized{Line: line}
	}

	switch line[0] {
	case 'S':
		if vals, ok := parseSensor(line[1:]); ok {
			return Sensor{Values: vals}
		}
	case 'L':
		if v, ok := parseScalar(line[1:]); ok {
			return LinePosition{Raw: v}
		}
	case 'O':
		if v, ok := parseScalar(line[1:]); ok {
			return PIDOutput{Value: v}
		}
	}

	if name, value, ok := parseParameter(line); ok {
		return ParameterResponse{Name: name, Value: value}
	}
	return Unrecognized{Line: line}
}

// IsTelemetry reports whether f is a streamed data frame (S, L or O).
// Parameter reports do not count: any terminal can echo "pid p 1".
func IsTelemetry(f Frame) bool {
	switch f.(type) {
	case Sensor, LinePosition, PIDOutput:
		return true
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\v' || c == '\f'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

// skipPrefixSeparator skips "<ws>[,]<ws>" after the S/L/O prefix.
func skipPrefixSeparator(s string) int {
	i := skipSpace(s, 0)
	if i < len(s) && s[i] == ',' {
		i = skipSpace(s, i+1)
	}
	return i
}

// parseSensor parses the payload after 'S': one or more unsigned integers
// separated by a comma and/or whitespace.
func parseSensor(s string) ([]int, bool) {
	i := skipPrefixSeparator(s)
	var vals []int
	for {
		start := i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		if start == i {
			return nil, false
		}
		n, err := strconv.Atoi(s[start:i])
		if err != nil {
			return nil, false
		}
		vals = append(vals, n)

		sepStart := i
		i = skipSpace(s, i)
		if i == len(s) {
			break
		}
		if s[i] == ',' {
			i = skipSpace(s, i+1)
		} else if i == sepStart {
			// digits followed directly by a non-separator
			return nil, false
		}
	}
	if len(vals) == 0 {
		return nil, false
	}
	return vals, true
}

// parseScalar parses the payload after 'L' or 'O': a single integer with
// an optional minus sign.
func parseScalar(s string) (int, bool) {
	i := skipPrefixSeparator(s)
	start := i
	if i < len(s) && s[i] == '-' {
		i++
	}
	digits := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if digits == i || skipSpace(s, i) != len(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s[start:i])
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseParameter recognizes "pid {p|i|d} <number>" and "motor speed <number>".
func parseParameter(line string) (name, value string, ok bool) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", "", false
	}
	f, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", "", false
	}

	switch {
	case strings.EqualFold(parts[0], "pid"):
		switch strings.ToLower(parts[1]) {
		case "p":
			return ParamPIDP, parts[2], true
		case "i":
			return ParamPIDI, parts[2], true
		case "d":
			return ParamPIDD, parts[2], true
		}
	case strings.EqualFold(parts[0], "motor") && strings.EqualFold(parts[1], "speed"):
		return ParamMotorSpeed, parts[2], true
	}
	return "", "", false
}
