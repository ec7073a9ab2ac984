// Package registry pauses and resumes every registered playback owner at
// once, for example when the application navigates away from a screen.
// A Registry is owned by the application and passed to whoever needs it.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sho7650/media-window/internal/logging"
	"github.com/sho7650/media-window/pkg/core/interfaces"
)

var (
	ErrDuplicateName = errors.New("name already registered")
	ErrInvalidMember = errors.New("invalid registry member")
)

type member struct {
	target interfaces.Pausable
	paused []string
}

// Registry tracks Pausable members by name.
type Registry struct {
	mu      sync.RWMutex
	members map[string]*member
	log     logging.Logger
}

// New creates an empty registry.
func New(log logging.Logger) *Registry {
	return &Registry{
		members: make(map[string]*member),
		log:     logging.OrNop(log).With("component", "registry"),
	}
}

// Register adds p under name. The returned function removes it again.
func (r *Registry) Register(name string, p interfaces.Pausable) (func(), error) {
	if name == "" || p == nil {
		return nil, fmt.Errorf("%w: name and target are required", ErrInvalidMember)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.members[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	m := &member{target: p}
	r.members[name] = m

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.members[name] == m {
				delete(r.members, name)
			}
		})
	}, nil
}

// PauseAll pauses every member and remembers what each one paused.
// It returns the number of paused items.
func (r *Registry) PauseAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for name, m := range r.members {
		paused := m.target.PauseAll()
		m.paused = append(m.paused, paused...)
		total += len(paused)
		if len(paused) > 0 {
			r.log.Debug("paused", "member", name, "ids", paused)
		}
	}
	return total
}

// ResumeAll resumes exactly the items paused by PauseAll.
func (r *Registry) ResumeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, m := range r.members {
		if len(m.paused) == 0 {
			continue
		}
		r.log.Debug("resuming", "member", name, "ids", m.paused)
		m.target.Resume(m.paused)
		m.paused = nil
	}
}

// Names returns the sorted member names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
