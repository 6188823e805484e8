package capture

import (
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

const queueSize = 1024

// Writer appends records to a capture file. Recording never blocks the
// caller: records are queued and encoded on a background goroutine, and
// dropped when the queue is full.
type Writer struct {
	file    *os.File
	encoder *cbor.Encoder

	queue   chan Record
	done    chan struct{}
	dropped atomic.Uint64

	mu       sync.Mutex
	closed   bool
	lastPort string
	session  string

	now func() time.Time
}

// NewWriter opens path for appending, creating it with 0644 if needed.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		file:    f,
		encoder: NewEncoder(f),
		queue:   make(chan Record, queueSize),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go w.run()
	log.Printf("[capture] recording to %s", path)
	return w, nil
}

// Inbound records a line read from port.
func (w *Writer) Inbound(port, line string) {
	w.record(port, DirectionIn, line)
}

// Outbound records a command written to port.
func (w *Writer) Outbound(port, line string) {
	w.record(port, DirectionOut, line)
}

// Dropped returns the number of records lost to a full queue.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *Writer) record(port string, dir Direction, line string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.session == "" || port != w.lastPort {
		w.session = uuid.NewString()
		w.lastPort = port
	}

	rec := Record{
		Timestamp: w.now(),
		Session:   w.session,
		Port:      port,
		Direction: dir,
		Line:      line,
	}
	select {
	case w.queue <- rec:
	default:
		w.dropped.Add(1)
	}
}

// NewSession forces the next record to start a new session, e.g. after a
// reconnect to the same port.
func (w *Writer) NewSession() {
	w.mu.Lock()
	w.session = ""
	w.mu.Unlock()
}

func (w *Writer) run() {
	defer close(w.done)
	for rec := range w.queue {
		if err := w.encoder.Encode(rec); err != nil {
			log.Printf("[capture] encode failed: %v", err)
		}
	}
}

// Close flushes queued records and closes the file. Safe to call twice.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	<-w.done
	if n := w.Dropped(); n > 0 {
		log.Printf("[capture] %d records dropped (queue full)", n)
	}
	return w.file.Close()
}
