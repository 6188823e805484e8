package link

import (
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/shaunagostinho/linedash/internal/capture"
)

// maxReplayGap caps the pause between two replayed lines.
const maxReplayGap = time.Second

// ReplayDriver serves a capture file as a single port. The port name is the
// capture file's base name prefixed with "replay:".
type ReplayDriver struct {
	Path string
	// Realtime keeps the recorded spacing between lines.
	Realtime bool
}

func (d ReplayDriver) name() string {
	return "replay:" + filepath.Base(d.Path)
}

func (d ReplayDriver) Ports() ([]string, error) {
	return []string{d.name()}, nil
}

func (d ReplayDriver) Open(name string, _ int, readTimeout time.Duration) (Port, error) {
	if name != d.name() {
		return nil, fmt.Errorf("link: no replay port %q", name)
	}
	r, err := capture.NewInboundReader(d.Path)
	if err != nil {
		return nil, fmt.Errorf("link: open capture: %w", err)
	}
	return &replayPort{
		reader:   r,
		timeout:  readTimeout,
		realtime: d.Realtime,
		sleep:    time.Sleep,
	}, nil
}

// replayPort yields recorded inbound lines. After the last record it behaves
// like a silent device: reads time out with (0, nil).
type replayPort struct {
	mu       sync.Mutex
	reader   *capture.Reader
	pending  []byte
	last     time.Time
	eof      bool
	closed   bool
	timeout  time.Duration
	realtime bool
	sleep    func(time.Duration)
}

func (p *replayPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errPortClosed
	}
	if len(p.pending) == 0 {
		if p.eof {
			p.sleep(p.timeout)
			return 0, nil
		}
		rec, err := p.reader.Next()
		if err == io.EOF {
			log.Printf("[link] replay finished")
			p.eof = true
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		if p.realtime && !p.last.IsZero() {
			gap := rec.Timestamp.Sub(p.last)
			p.sleep(min(max(gap, 0), maxReplayGap))
		}
		p.last = rec.Timestamp
		p.pending = append(p.pending, rec.Line...)
		p.pending = append(p.pending, '\n')
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Write discards commands; a recording cannot answer them.
func (p *replayPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	return len(b), nil
}

func (p *replayPort) ResetInputBuffer() error { return nil }

func (p *replayPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.reader.Close()
}
