package link

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// fakePort serves queued chunks; an empty queue reads as a timeout unless
// readErr is set.
type fakePort struct {
	mu       sync.Mutex
	chunks   [][]byte
	readErr  error
	writeErr error
	written  bytes.Buffer
	closed   bool
	resets   int
}

func newFakePort(lines ...string) *fakePort {
	p := &fakePort{}
	for _, l := range lines {
		p.chunks = append(p.chunks, []byte(l+"\r\n"))
	}
	return p
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	if len(p.chunks) == 0 {
		if p.readErr != nil {
			return 0, p.readErr
		}
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	p.chunks[0] = p.chunks[0][n:]
	if len(p.chunks[0]) == 0 {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeDriver struct {
	mu     sync.Mutex
	names  []string
	ports  map[string]*fakePort
	opened []string
}

func (d *fakeDriver) Ports() ([]string, error) {
	return d.names, nil
}

func (d *fakeDriver) Open(name string, _ int, _ time.Duration) (Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, name)
	p, ok := d.ports[name]
	if !ok {
		return nil, errors.New("busy")
	}
	return p, nil
}

func (d *fakeDriver) openCalls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.opened...)
}

type statusLog struct {
	mu   sync.Mutex
	msgs []string
}

func (s *statusLog) Notify(text string) {
	s.mu.Lock()
	s.msgs = append(s.msgs, text)
	s.mu.Unlock()
}

func (s *statusLog) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

type tapLog struct {
	mu  sync.Mutex
	in  []string
	out []string
}

func (t *tapLog) Inbound(port, line string) {
	t.mu.Lock()
	t.in = append(t.in, port+":"+line)
	t.mu.Unlock()
}

func (t *tapLog) Outbound(port, line string) {
	t.mu.Lock()
	t.out = append(t.out, port+":"+line)
	t.mu.Unlock()
}

type sessionLog struct {
	tapLog
	sessions int
}

func (s *sessionLog) NewSession() {
	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()
}

// blockingPort serves one line, then blocks for the whole read timeout on
// every read like an idle serial device.
type blockingPort struct {
	fakePort
	idle time.Duration
}

func (p *blockingPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	pending := len(p.chunks) > 0
	p.mu.Unlock()
	if pending {
		return p.fakePort.Read(b)
	}
	time.Sleep(p.idle)
	return 0, nil
}
