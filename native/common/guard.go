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

// PauseSwitch is an operator-controlled PauseView keyed by module name.
type PauseSwitch struct {
	mu      sync.RWMutex
	modules map[string]bool
}

// NewPauseSwitch returns a switch with the listed modules paused.
func NewPauseSwitch(paused ...string) *PauseSwitch {
	s := &PauseSwitch{modules: make(map[string]bool)}
	for _, module := range paused {
		s.Set(module, true)
	}
	return s
}

// Set pauses or resumes module.
func (s *PauseSwitch) Set(module string, paused bool) {
	key := strings.ToLower(strings.TrimSpace(module))
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[key] = paused
}

func (s *PauseSwitch) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modules[strings.ToLower(strings.TrimSpace(module))]
}
