package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSwitch is a concurrency-safe PauseView toggled by operators.
type PauseSwitch struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseSwitch returns a switch with the supplied modules already paused.
func NewPauseSwitch(modules ...string) *PauseSwitch {
	s := &PauseSwitch{paused: make(map[string]bool)}
	for _, module := range modules {
		s.Pause(module)
	}
	return s
}

// Pause marks the module as paused.
func (s *PauseSwitch) Pause(module string) {
	key := strings.ToLower(strings.TrimSpace(module))
	if key == "" {
		return
	}
	s.mu.Lock()
	s.paused[key] = true
	s.mu.Unlock()
}

// Resume clears the pause flag for the module.
func (s *PauseSwitch) Resume(module string) {
	s.mu.Lock()
	delete(s.paused, strings.ToLower(strings.TrimSpace(module)))
	s.mu.Unlock()
}

// IsPaused implements PauseView.
func (s *PauseSwitch) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[strings.ToLower(strings.TrimSpace(module))]
}
