// Package robot formats outbound commands for the line follower firmware
// and keeps the operator's view of its tunable parameters.
package robot

import (
	"fmt"
	"strconv"
)

// Gain selects one PID term.
type Gain byte

const (
	GainP Gain = 'p'
	GainI Gain = 'i'
	GainD Gain = 'd'
)

// LogKind selects one firmware log stream.
type LogKind byte

const (
	LogP LogKind = 'p'
	LogI LogKind = 'i'
	LogD LogKind = 'd'
	LogS LogKind = 's' // sensor frames
	LogL LogKind = 'l' // line position frames
	LogO LogKind = 'o' // PID output frames
)

const (
	CmdMotorStart = "motor start"
	CmdMotorStop  = "motor stop"
	CmdQuerySpeed = "motor speed ?"
)

// SetGain formats "pid <g> <value>".
func SetGain(g Gain, v float64) string {
	return fmt.Sprintf("pid %c %s", g, strconv.FormatFloat(v, 'f', -1, 64))
}

// QueryGain formats "pid <g> ?".
func QueryGain(g Gain) string {
	return fmt.Sprintf("pid %c ?", g)
}

// SetMotorSpeed formats "motor speed <n>". The firmware takes integers only.
func SetMotorSpeed(speed int) string {
	return "motor speed " + strconv.Itoa(speed)
}

// SetLog formats "log <kind> on|off".
func SetLog(k LogKind, on bool) string {
	state := "off"
	if on {
		state = "on"
	}
	return fmt.Sprintf("log %c %s", k, state)
}
