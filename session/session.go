// Package session runs editor sessions on the server: one canvas surface per
// open process map, restored from the store and autosaved back to it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"processmap-server/autosave"
	"processmap-server/canvas"
	"processmap-server/core"
	"processmap-server/notify"
)

var ErrClosed = errors.New("session is closed")

// Store is what a session needs from process-map storage.
type Store interface {
	GetProcessMap(ctx context.Context, id string) (*core.ProcessMap, error)
	SaveCanvas(ctx context.Context, id string, data json.RawMessage) error
}

type Options struct {
	AutosaveDelay   time.Duration
	AutosaveTimeout time.Duration
	// Notifier receives every notice in addition to the session's own queue.
	Notifier notify.Notifier
}

// Session owns the editor state of one process map. All methods are safe for
// concurrent use; the scene graph is only touched under the session lock.
type Session struct {
	processMapID string

	mu         sync.Mutex
	surface    *canvas.Surface
	connectors *canvas.Connectors
	controller *canvas.Controller
	revision   uint64
	closed     bool

	notices  *notify.Recorder
	pipeline *autosave.Pipeline
}

// Open loads the process map and restores its canvas. A corrupt canvas opens as
// an empty one with a warning notice.
func Open(ctx context.Context, store Store, processMapID string, opts Options) (*Session, error) {
	pm, err := store.GetProcessMap(ctx, processMapID)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("process_map_id", processMapID)

	next := opts.Notifier
	if next == nil {
		next = notify.Log{Fields: logrus.Fields{"process_map_id": processMapID}}
	}
	s := &Session{
		processMapID: processMapID,
		notices:      &notify.Recorder{Next: next},
	}
	s.surface = canvas.NewSurface()
	s.connectors = canvas.NewConnectors(s.surface)
	s.controller = canvas.NewController(s.surface, s.connectors)

	var raw any
	if len(pm.CanvasData) > 0 {
		raw = pm.CanvasData
	}
	doc, notice := canvas.FromDocument(raw)
	if notice != nil {
		s.notices.Notify(*notice)
	}
	if skipped := s.surface.Restore(doc); skipped > 0 {
		log.WithField("skipped", skipped).Warn("Skipped unreadable objects while opening canvas")
	}

	s.pipeline = autosave.New(s.snapshot, store, autosave.Options{
		Delay:    opts.AutosaveDelay,
		Timeout:  opts.AutosaveTimeout,
		Notifier: s.notices,
	})
	s.surface.Subscribe(s.onEvent)

	log.WithField("objects", s.surface.Len()).Info("Editor session opened")
	return s, nil
}

func (s *Session) ProcessMapID() string {
	return s.processMapID
}

// Document returns the serialized canvas.
func (s *Session) Document() canvas.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface.Serialize()
}

// Revision counts the mutations applied since the session was opened.
func (s *Session) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Save writes the canvas now instead of waiting for the autosave delay.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.pipeline.Flush(ctx)
}

// SavePending reports whether a change is waiting for the autosave delay.
func (s *Session) SavePending() bool {
	return s.pipeline.Pending()
}

// LastSaved returns the revision written by the last successful save.
func (s *Session) LastSaved() uint64 {
	return s.pipeline.LastSaved()
}

// Notices returns and clears the queued notices.
func (s *Session) Notices() []notify.Notice {
	return s.notices.Drain()
}

// Close cancels the pending autosave. An in-flight write is allowed to finish.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.controller.Cancel()
	s.mu.Unlock()

	s.pipeline.Stop()
	logrus.WithField("process_map_id", s.processMapID).Info("Editor session closed")
}

// Wait blocks until an in-flight save has finished.
func (s *Session) Wait() {
	s.pipeline.Wait()
}

func (s *Session) onEvent(e canvas.Event) {
	if !e.Mutation() {
		return
	}
	s.revision++
	s.pipeline.Notify()
}

// snapshot runs on the autosave goroutine.
func (s *Session) snapshot() (autosave.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return autosave.Snapshot{}, false
	}
	return autosave.Snapshot{
		ProcessMapID: s.processMapID,
		Payload:      s.surface.Serialize().Marshal(),
		Revision:     s.revision,
	}, true
}
