// Package autosave persists an editor's canvas in the background: changes are
// debounced and written as a whole document, with at most one write in flight.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"processmap-server/notify"
)

// DefaultDelay is the quiet period before a scheduled save runs.
const DefaultDelay = 600 * time.Millisecond

// FailureMessage is the notice shown when a save fails.
const FailureMessage = "Failed to save process map"

// ErrSuperseded is returned by Flush when a newer save replaced this one.
var ErrSuperseded = errors.New("save superseded by a newer save")

// Snapshot is the state captured for one save.
type Snapshot struct {
	ProcessMapID string
	Payload      json.RawMessage
	Revision     uint64
}

// SourceFunc captures the current state. It returns false when there is nothing
// to save, e.g. no process map is loaded. It is called with the pipeline's
// lock held and must not call back into the Pipeline.
type SourceFunc func() (Snapshot, bool)

// Saver writes a whole canvas document, replacing the stored one.
type Saver interface {
	SaveCanvas(ctx context.Context, processMapID string, data json.RawMessage) error
}

type Options struct {
	Delay    time.Duration
	Timeout  time.Duration
	Notifier notify.Notifier
}

type attempt struct {
	seq    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

type Pipeline struct {
	source   SourceFunc
	saver    Saver
	notifier notify.Notifier
	timeout  time.Duration
	debounce *Debouncer

	mu        sync.Mutex
	seq       uint64
	inflight  *attempt
	lastSaved uint64

	stopped atomic.Bool
	wg      sync.WaitGroup
}

func New(source SourceFunc, saver Saver, opts Options) *Pipeline {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	p := &Pipeline{
		source:   source,
		saver:    saver,
		notifier: opts.Notifier,
		timeout:  opts.Timeout,
	}
	p.debounce = NewDebouncer(opts.Delay, p.fire)
	return p
}

// Notify records that the state changed and restarts the countdown.
func (p *Pipeline) Notify() {
	if p.stopped.Load() {
		return
	}
	p.debounce.Schedule()
}

// Pending reports whether a save is scheduled but has not started.
func (p *Pipeline) Pending() bool {
	return p.debounce.Pending()
}

// LastSaved returns the revision of the last successful save.
func (p *Pipeline) LastSaved() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSaved
}

// Flush saves now, dropping any scheduled save.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.debounce.Cancel()
	return p.save(ctx)
}

// Stop cancels the scheduled save. A write already in flight is left to finish.
func (p *Pipeline) Stop() {
	p.stopped.Store(true)
	p.debounce.Cancel()
}

// Wait blocks until no write is in flight.
func (p *Pipeline) Wait() {
	// A save that already captured its snapshot registers with wg under mu.
	p.mu.Lock()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pipeline) fire() {
	if p.stopped.Load() {
		return
	}
	_ = p.save(context.Background())
}

func (p *Pipeline) save(parent context.Context) error {
	p.mu.Lock()
	snap, ok := p.source()
	if !ok {
		p.mu.Unlock()
		return nil
	}
	p.seq++
	var ctx context.Context
	var cancel context.CancelFunc
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, p.timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	cur := &attempt{seq: p.seq, cancel: cancel, done: make(chan struct{})}
	prev := p.inflight
	p.inflight = cur
	p.wg.Add(1)
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		if p.inflight == cur {
			p.inflight = nil
		}
		p.mu.Unlock()
		close(cur.done)
		p.wg.Done()
	}()

	log := logrus.WithFields(logrus.Fields{
		"process_map_id": snap.ProcessMapID,
		"revision":       snap.Revision,
	})

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	err := p.saver.SaveCanvas(ctx, snap.ProcessMapID, snap.Payload)

	p.mu.Lock()
	superseded := p.seq != cur.seq
	if err == nil && snap.Revision > p.lastSaved {
		p.lastSaved = snap.Revision
	}
	p.mu.Unlock()

	if err != nil {
		if superseded {
			log.WithError(err).Debug("Superseded save failed")
			return ErrSuperseded
		}
		log.WithError(err).Error("Failed to save canvas")
		p.notifier.Notify(notify.Notice{Level: notify.LevelError, Message: FailureMessage, At: time.Now()})
		return fmt.Errorf("save process map %s: %w", snap.ProcessMapID, err)
	}
	log.Debug("Canvas saved successfully")
	return nil
}
