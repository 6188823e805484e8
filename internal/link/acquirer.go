package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaunagostinho/linedash/internal/frame"
)

// ErrNotConnected is returned by Send when no port is active.
var ErrNotConnected = errors.New("link: not connected")

// StatusSink receives human-readable connection status updates.
type StatusSink interface {
	Notify(text string)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(text string)

func (f StatusFunc) Notify(text string) { f(text) }

// Tap observes every line read from or written to the active port.
// Implementations must not block.
type Tap interface {
	Inbound(port, line string)
	Outbound(port, line string)
}

// sessionTap is a Tap that groups lines by connection.
type sessionTap interface {
	NewSession()
}

// Config controls port acquisition.
type Config struct {
	BaudRate      int
	PreferredPort string        // Probed first when present; still validated
	ReadTimeout   time.Duration // Per-read timeout on the open port
	Settle        time.Duration // Wait after open before probing
	ProbeReads    int           // Line reads attempted per candidate
}

// Defaults used for zero Config fields.
const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 100 * time.Millisecond
	DefaultSettle      = 500 * time.Millisecond
	DefaultProbeReads  = 8
)

type conn struct {
	name string
	port Port
	lr   *lineReader
}

// Acquirer holds at most one active connection. Opening, closing, reading
// and writing the active port are serialized by a single mutex. The active
// port name is published separately so Port never waits on a read.
type Acquirer struct {
	driver Driver
	cfg    Config
	status StatusSink
	tap    Tap

	mu     sync.Mutex
	active *conn
	closed bool

	name atomic.Pointer[string]
}

// NewAcquirer creates an acquirer. status may be nil.
func NewAcquirer(driver Driver, cfg Config, status StatusSink) *Acquirer {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if cfg.ProbeReads <= 0 {
		cfg.ProbeReads = DefaultProbeReads
	}
	if status == nil {
		status = StatusFunc(func(string) {})
	}
	return &Acquirer{driver: driver, cfg: cfg, status: status}
}

// SetTap installs an observer for all traffic. Call before use.
func (a *Acquirer) SetTap(t Tap) {
	a.mu.Lock()
	a.tap = t
	a.mu.Unlock()
}

// EnsureConnected returns true if a port is active, otherwise scans the
// candidates and installs the first one that streams valid telemetry.
// It does not touch hardware when already connected.
func (a *Acquirer) EnsureConnected(ctx context.Context) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	if a.active != nil {
		a.mu.Unlock()
		return true
	}
	a.mu.Unlock()

	a.status.Notify("Scanning serial ports…")
	names, err := a.driver.Ports()
	if err != nil {
		log.Printf("[link] %v", err)
	}
	if len(names) == 0 {
		a.status.Notify("No serial ports found. Retrying…")
		return false
	}

	for _, name := range preferFirst(names, a.cfg.PreferredPort) {
		if ctx.Err() != nil {
			return false
		}
		c := a.probe(ctx, name)
		if c == nil {
			continue
		}

		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			c.port.Close()
			return false
		}
		if a.active != nil {
			a.active.port.Close()
		}
		a.active = c
		a.name.Store(&c.name)
		tap := a.tap
		a.mu.Unlock()

		if st, ok := tap.(sessionTap); ok {
			st.NewSession()
		}
		log.Printf("[link] connected to %s at %d baud", name, a.cfg.BaudRate)
		a.status.Notify(fmt.Sprintf("Connected: %s @ %d bps", name, a.cfg.BaudRate))
		return true
	}

	a.status.Notify("No ports with valid data found. Retrying…")
	return false
}

// probe opens one candidate and returns it if any of the first ProbeReads
// lines is a telemetry frame. Failures only skip the candidate.
func (a *Acquirer) probe(ctx context.Context, name string) *conn {
	port, err := a.driver.Open(name, a.cfg.BaudRate, a.cfg.ReadTimeout)
	if err != nil {
		log.Printf("[link] skip %s: %v", name, err)
		return nil
	}

	a.status.Notify(fmt.Sprintf("Opened %s, waiting for data…", name))
	if !sleepCtx(ctx, a.cfg.Settle) {
		port.Close()
		return nil
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Printf("[link] %s: reset input: %v", name, err)
	}

	lr := newLineReader(port, a.cfg.ReadTimeout)
	var sample string
	for i := 0; i < a.cfg.ProbeReads; i++ {
		line, ok, err := lr.ReadLine()
		if err != nil {
			log.Printf("[link] probe %s: read: %v", name, err)
			break
		}
		if !ok {
			continue
		}
		if frame.IsTelemetry(frame.Classify(line)) {
			return &conn{name: name, port: port, lr: lr}
		}
		sample = line
	}

	log.Printf("[link] probed %s: no valid frame yet, sample=%q", name, sample)
	port.Close()
	return nil
}

// ReadLine reads one line from the active port. ok is false on timeout, when
// disconnected, or after a read fault (which also drops the connection).
func (a *Acquirer) ReadLine() (line string, ok bool) {
	a.mu.Lock()
	c := a.active
	if c == nil {
		a.mu.Unlock()
		return "", false
	}
	line, ok, err := c.lr.ReadLine()
	if err != nil {
		a.dropLocked()
	}
	tap := a.tap
	a.mu.Unlock()

	if err != nil {
		a.lost(c.name, err)
		return "", false
	}
	if ok && tap != nil {
		tap.Inbound(c.name, line)
	}
	return line, ok
}

// Send writes one newline-terminated command to the active port.
func (a *Acquirer) Send(command string) error {
	a.mu.Lock()
	c := a.active
	if c == nil {
		a.mu.Unlock()
		return ErrNotConnected
	}
	_, err := c.port.Write([]byte(command + "\n"))
	if err != nil {
		a.dropLocked()
	}
	tap := a.tap
	a.mu.Unlock()

	if err != nil {
		a.lost(c.name, err)
		return fmt.Errorf("link: write %s: %w", c.name, err)
	}
	if tap != nil {
		tap.Outbound(c.name, command)
	}
	return nil
}

// Port returns the name of the active port, or "" when disconnected.
func (a *Acquirer) Port() string {
	if name := a.name.Load(); name != nil {
		return *name
	}
	return ""
}

// Close closes the active port. Later EnsureConnected calls return false.
func (a *Acquirer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.active == nil {
		return nil
	}
	err := a.active.port.Close()
	a.active = nil
	a.name.Store(nil)
	return err
}

// dropLocked closes and clears the active port. Must be called with a.mu held.
func (a *Acquirer) dropLocked() {
	if a.active == nil {
		return
	}
	a.active.port.Close()
	a.active = nil
	a.name.Store(nil)
}

func (a *Acquirer) lost(name string, err error) {
	log.Printf("[link] connection to %s lost: %v", name, err)
	a.status.Notify(fmt.Sprintf("Connection lost on %s, rescanning…", name))
}

// preferFirst moves preferred to the front, keeping the enumeration order
// of the others.
func preferFirst(names []string, preferred string) []string {
	out := make([]string, 0, len(names))
	if preferred != "" {
		for _, n := range names {
			if n == preferred {
				out = append(out, n)
			}
		}
	}
	for _, n := range names {
		if preferred == "" || n != preferred {
			out = append(out, n)
		}
	}
	return out
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
