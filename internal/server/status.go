package server

import (
	"log"
	"sync"
)

// Status keeps the most recent status line for the UI. It satisfies both
// link.StatusSink and robot.Notifier.
type Status struct {
	mu   sync.RWMutex
	text string
}

// NewStatus returns an empty status.
func NewStatus() *Status {
	return &Status{}
}

// Notify records text, logging it only when it changes.
func (s *Status) Notify(text string) {
	s.mu.Lock()
	changed := text != s.text
	s.text = text
	s.mu.Unlock()
	if changed {
		log.Printf("[status] %s", text)
	}
}

// Text returns the latest status line.
func (s *Status) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}
