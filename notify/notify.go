// Package notify carries user-facing notices (the editor's toasts) from the
// canvas engine to whoever displays them.
package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notice struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func Warning(message string) *Notice {
	return &Notice{Level: LevelWarning, Message: message, At: time.Now()}
}

// Notifier receives notices for display. Implementations must be safe for
// concurrent use: autosave reports failures from its timer goroutine.
type Notifier interface {
	Notify(n Notice)
}

// Log writes notices to logrus.
type Log struct {
	Fields logrus.Fields
}

func (l Log) Notify(n Notice) {
	entry := logrus.WithFields(l.Fields).WithField("notice", true)
	switch n.Level {
	case LevelError:
		entry.Error(n.Message)
	case LevelWarning:
		entry.Warn(n.Message)
	default:
		entry.Info(n.Message)
	}
}

// Recorder keeps notices until they are drained, forwarding each to Next.
type Recorder struct {
	Next Notifier

	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
	if r.Next != nil {
		r.Next.Notify(n)
	}
}

// Drain returns the recorded notices and forgets them.
func (r *Recorder) Drain() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notices
	r.notices = nil
	return out
}

// Discard drops every notice.
type Discard struct{}

func (Discard) Notify(Notice) {}
