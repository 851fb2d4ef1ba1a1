// Package lifecycle aggregates cleanup of long-lived components (stores
// sweeper, billing worker, webhook pool) behind one Close.
package lifecycle

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Manager closes registered resources in reverse registration order.
type Manager struct {
	mu        sync.Mutex
	log       zerolog.Logger
	resources []resource
}

type resource struct {
	name   string
	closer io.Closer
}

// NewManager creates an empty manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log}
}

// Register adds a resource to be closed on shutdown (LIFO order).
func (m *Manager) Register(name string, closer io.Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, resource{name: name, closer: closer})
}

// RegisterFunc wraps a cleanup function as a Closer.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.Register(name, closerFunc(fn))
}

// Close closes everything, attempting all resources even when some fail,
// and returns the first error encountered.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for i := len(m.resources) - 1; i >= 0; i-- {
		res := m.resources[i]
		if err := res.closer.Close(); err != nil {
			m.log.Error().Err(err).Str("resource", res.name).Msg("lifecycle: close failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.resources = nil
	return firstErr
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
