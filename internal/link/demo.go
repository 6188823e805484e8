package link

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DemoPortName is the single port exposed by DemoDriver.
const DemoPortName = "demo"

var errPortClosed = errors.New("port closed")

// DemoDriver exposes one simulated robot for development without hardware.
type DemoDriver struct {
	// Interval between telemetry ticks; 10ms when zero.
	Interval time.Duration
}

func (DemoDriver) Ports() ([]string, error) { return []string{DemoPortName}, nil }

func (d DemoDriver) Open(name string, _ int, readTimeout time.Duration) (Port, error) {
	if name != DemoPortName {
		return nil, fmt.Errorf("link: no demo port %q", name)
	}
	interval := d.Interval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return newDemoRobot(interval, readTimeout), nil
}

// demoRobot simulates the line follower firmware: six reflectance sensors,
// a line position in [-127,127], a PID controller output, and the
// pid/motor/log command set.
type demoRobot struct {
	mu       sync.Mutex
	pending  bytes.Buffer
	cmdBuf   []byte
	next     time.Time
	interval time.Duration
	timeout  time.Duration
	closed   bool

	t          float64 // virtual time accumulator
	kp, ki, kd float64
	integral   float64
	lastErr    float64
	speed      int
	running    bool
	logs       map[byte]bool
	lastPIDLog float64
}

func newDemoRobot(interval, timeout time.Duration) *demoRobot {
	return &demoRobot{
		interval: interval,
		timeout:  timeout,
		next:     time.Now(),
		kp:       1.5,
		ki:       0.01,
		kd:       4,
		speed:    120,
		logs:     map[byte]bool{'s': true, 'l': true, 'o': true},
	}
}

func (d *demoRobot) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, errPortClosed
	}
	if d.pending.Len() == 0 {
		wait := time.Until(d.next)
		if wait > d.timeout {
			d.mu.Unlock()
			time.Sleep(d.timeout)
			d.mu.Lock()
			return 0, nil
		}
		if wait > 0 {
			d.mu.Unlock()
			time.Sleep(wait)
			d.mu.Lock()
			if d.closed {
				return 0, errPortClosed
			}
		}
		d.tick()
		d.next = d.next.Add(d.interval)
		if time.Since(d.next) > time.Second {
			d.next = time.Now()
		}
	}
	n, _ := d.pending.Read(p)
	return n, nil
}

// tick advances the simulation one step and queues the enabled log lines.
func (d *demoRobot) tick() {
	d.t += d.interval.Seconds()

	// Line drifts under the six sensors
	pos := 2.5 + 2.4*math.Sin(d.t*0.7)*math.Cos(d.t*0.23)
	vals := make([]string, 6)
	for i := range vals {
		dist := float64(i) - pos
		v := 180 + 760*math.Exp(-dist*dist/0.8) + rand.Float64()*25
		vals[i] = strconv.Itoa(int(v))
	}
	line := int((pos - 2.5) / 2.5 * 127)
	if line > 127 {
		line = 127
	}
	if line < -127 {
		line = -127
	}

	errVal := float64(line)
	d.integral += errVal * d.interval.Seconds()
	deriv := (errVal - d.lastErr) / d.interval.Seconds() * 0.01
	d.lastErr = errVal
	out := int(d.kp*errVal + d.ki*d.integral + d.kd*deriv)
	if out > 255 {
		out = 255
	}
	if out < -255 {
		out = -255
	}

	if d.logs['s'] {
		d.pending.WriteString("S," + strings.Join(vals, ",") + "\r\n")
	}
	if d.logs['l'] {
		fmt.Fprintf(&d.pending, "L,%d\r\n", line)
	}
	if d.logs['o'] {
		fmt.Fprintf(&d.pending, "O,%d\r\n", out)
	}
	if d.t-d.lastPIDLog > 0.1 {
		if d.logs['p'] {
			fmt.Fprintf(&d.pending, "pid p %.3f\r\n", d.kp)
		}
		if d.logs['i'] {
			fmt.Fprintf(&d.pending, "pid i %.3f\r\n", d.ki)
		}
		if d.logs['d'] {
			fmt.Fprintf(&d.pending, "pid d %.3f\r\n", d.kd)
		}
		d.lastPIDLog = d.t
	}
}

func (d *demoRobot) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, errPortClosed
	}
	d.cmdBuf = append(d.cmdBuf, p...)
	for {
		idx := bytes.IndexByte(d.cmdBuf, '\n')
		if idx < 0 {
			break
		}
		cmd := strings.TrimSpace(string(d.cmdBuf[:idx]))
		d.cmdBuf = d.cmdBuf[idx+1:]
		d.handle(cmd)
	}
	return len(p), nil
}

// handle runs one terminal command the way the firmware does.
func (d *demoRobot) handle(cmd string) {
	args := strings.Fields(cmd)
	if len(args) == 0 {
		return
	}
	switch args[0] {
	case "pid":
		if len(args) < 3 {
			d.pending.WriteString("Usage: pid <p|i|d> <value> or pid <p|i|d> ?\r\n")
			return
		}
		gain := map[string]*float64{"p": &d.kp, "i": &d.ki, "d": &d.kd}[args[1]]
		if gain == nil {
			d.pending.WriteString("Invalid parameter. Use: p, i, or d\r\n")
			return
		}
		if args[2] == "?" {
			fmt.Fprintf(&d.pending, "pid %s %.3f\r\n", args[1], *gain)
			return
		}
		if v, err := strconv.ParseFloat(args[2], 64); err == nil {
			*gain = v
		}
	case "motor":
		if len(args) < 2 {
			d.pending.WriteString("Usage: motor <speed|start|stop> [value|?]\r\n")
			return
		}
		switch args[1] {
		case "speed":
			if len(args) < 3 {
				d.pending.WriteString("Usage: motor speed <value> or motor speed ?\r\n")
				return
			}
			if args[2] == "?" {
				fmt.Fprintf(&d.pending, "motor speed %d\r\n", d.speed)
				return
			}
			if v, err := strconv.Atoi(args[2]); err == nil {
				d.speed = v
			}
		case "start":
			d.running = true
		case "stop":
			d.running = false
		}
	case "log":
		if len(args) < 3 || len(args[1]) == 0 {
			d.pending.WriteString("Usage: log <type> <on|off>\r\n")
			return
		}
		d.logs[args[1][0]] = args[2] == "on"
	default:
		fmt.Fprintf(&d.pending, "Unknown command: %s\r\n", args[0])
	}
}

func (d *demoRobot) ResetInputBuffer() error {
	d.mu.Lock()
	d.pending.Reset()
	d.mu.Unlock()
	return nil
}

func (d *demoRobot) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
