package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager keeps at most one open session per process map.
type Manager struct {
	store Store
	opts  Options
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	session  *Session
	lastUsed time.Time
}

func NewManager(store Store, opts Options) *Manager {
	return &Manager{
		store:    store,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Acquire returns the open session for the process map, opening it on first
// use. The store is read without holding the manager lock; when two callers
// open the same map at once the first to register wins and the other session
// is discarded.
func (m *Manager) Acquire(ctx context.Context, processMapID string) (*Session, error) {
	if s, ok := m.lookup(processMapID); ok {
		return s, nil
	}

	opened, err := Open(ctx, m.store, processMapID, m.opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if e, ok := m.sessions[processMapID]; ok {
		e.lastUsed = m.now()
		m.mu.Unlock()
		opened.Close()
		return e.session, nil
	}
	m.sessions[processMapID] = &entry{session: opened, lastUsed: m.now()}
	m.mu.Unlock()
	return opened, nil
}

func (m *Manager) lookup(processMapID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[processMapID]
	if !ok {
		return nil, false
	}
	e.lastUsed = m.now()
	return e.session, true
}

// Close closes the session of the process map without saving and waits for a
// save already in flight, so a write that follows cannot be overwritten by it.
// It reports whether a session was open.
func (m *Manager) Close(processMapID string) bool {
	m.mu.Lock()
	e, ok := m.sessions[processMapID]
	delete(m.sessions, processMapID)
	m.mu.Unlock()

	if ok {
		e.session.Close()
		e.session.Wait()
	}
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseIdle saves and closes every session not acquired within maxIdle. It
// returns the number of sessions closed.
func (m *Manager) CloseIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	idle := make(map[string]*Session)
	for id, e := range m.sessions {
		if e.lastUsed.Before(cutoff) {
			idle[id] = e.session
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for id, s := range idle {
		log := logrus.WithField("process_map_id", id)
		if err := m.shutdown(ctx, s); err != nil {
			log.WithError(err).Error("Failed to save idle session")
			continue
		}
		log.Debug("Closed idle editor session")
	}
	return len(idle)
}

// RunReaper closes idle sessions every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.CloseIdle(ctx, maxIdle); n > 0 {
				logrus.WithField("closed", n).Info("Closed idle editor sessions")
			}
		}
	}
}

// CloseAll saves every session with pending changes and closes it.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	var errs []error
	for id, e := range sessions {
		if err := m.shutdown(ctx, e.session); err != nil {
			logrus.WithField("process_map_id", id).WithError(err).Error("Failed to save session on shutdown")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// shutdown saves unsaved changes, closes s and waits for its last write.
func (m *Manager) shutdown(ctx context.Context, s *Session) error {
	var err error
	if s.SavePending() || s.Revision() > s.LastSaved() {
		err = s.Save(ctx)
	}
	s.Close()
	s.Wait()
	return err
}
