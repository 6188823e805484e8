package robot

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Sender writes one command line to the robot.
type Sender interface {
	Send(command string) error
}

// Notifier receives operator-facing status text.
type Notifier interface {
	Notify(text string)
}

// Gaps between consecutive commands of a batch. The firmware parses one
// command per loop iteration and drops input that arrives too fast.
const (
	ParamGap = 100 * time.Millisecond
	LogGap   = 50 * time.Millisecond
)

type step struct {
	cmd string
	gap time.Duration
}

// Channel sends commands and runs the read-all / write-all sequences.
type Channel struct {
	sender Sender
	status Notifier

	paramGap time.Duration
	logGap   time.Duration
}

// NewChannel creates a channel. status may be nil.
func NewChannel(sender Sender, status Notifier) *Channel {
	return &Channel{sender: sender, status: status, paramGap: ParamGap, logGap: LogGap}
}

// Send forwards one command.
func (c *Channel) Send(command string) error {
	if err := c.sender.Send(command); err != nil {
		log.Printf("[robot] send %q: %v", command, err)
		return err
	}
	return nil
}

// ReadAll queries every gain and the motor speed. Answers arrive later as
// parameter response frames on the telemetry stream.
func (c *Channel) ReadAll(ctx context.Context) error {
	c.notify("Reading parameters from robot…")
	steps := []step{
		{QueryGain(GainP), c.paramGap},
		{QueryGain(GainI), c.paramGap},
		{QueryGain(GainD), c.paramGap},
		{CmdQuerySpeed, c.paramGap},
	}
	if err := c.run(ctx, steps); err != nil {
		c.notify("Reading parameters failed")
		return err
	}
	c.notify("Reading parameters… (check responses)")
	return nil
}

// WriteAll sends every set field of p that the firmware understands.
func (c *Channel) WriteAll(ctx context.Context, p Parameters) error {
	c.notify("Writing parameters to robot…")
	if err := c.run(ctx, c.writePlan(p)); err != nil {
		c.notify("Writing parameters failed")
		return err
	}
	c.notify("Parameters written to robot")
	return nil
}

func (c *Channel) writePlan(p Parameters) []step {
	var steps []step
	gains := []struct {
		g Gain
		v *float64
	}{{GainP, p.PIDP}, {GainI, p.PIDI}, {GainD, p.PIDD}}
	for _, g := range gains {
		if g.v != nil {
			steps = append(steps, step{SetGain(g.g, *g.v), c.paramGap})
		}
	}
	if p.MotorSpeed != nil {
		steps = append(steps, step{SetMotorSpeed(int(*p.MotorSpeed)), c.paramGap})
	}
	logs := []struct {
		k  LogKind
		on *bool
	}{{LogP, p.LogP}, {LogI, p.LogI}, {LogD, p.LogD}, {LogS, p.LogS}, {LogL, p.LogL}, {LogO, p.LogO}}
	for _, l := range logs {
		if l.on != nil {
			steps = append(steps, step{SetLog(l.k, *l.on), c.logGap})
		}
	}
	return steps
}

// run sends each step, pausing between them. It stops at the first send
// error or when ctx ends.
func (c *Channel) run(ctx context.Context, steps []step) error {
	for i, s := range steps {
		if err := c.Send(s.cmd); err != nil {
			return fmt.Errorf("robot: %q: %w", s.cmd, err)
		}
		if i == len(steps)-1 || s.gap <= 0 {
			continue
		}
		t := time.NewTimer(s.gap)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (c *Channel) notify(text string) {
	log.Printf("[robot] %s", text)
	if c.status != nil {
		c.status.Notify(text)
	}
}
