package notify

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Level orders notices by severity.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is one piece of user-visible feedback.
type Notice struct {
	Level   Level
	Title   string
	Message string
}

func Info(title, msg string) Notice { return Notice{Level: LevelInfo, Title: title, Message: msg} }
func Warning(title, msg string) Notice {
	return Notice{Level: LevelWarning, Title: title, Message: msg}
}
func Error(title, msg string) Notice { return Notice{Level: LevelError, Title: title, Message: msg} }

// Notifier shows notices to the user. Implementations must be safe for
// concurrent use and must not block for long.
type Notifier interface {
	Notify(n Notice)
}

// Log writes notices to the structured log. It is the fallback when no
// desktop surface is available.
type Log struct{}

func (Log) Notify(n Notice) {
	ev := log.Info()
	switch n.Level {
	case LevelWarning:
		ev = log.Warn()
	case LevelError:
		ev = log.Error()
	}
	ev.Str("title", n.Title).Str("message", n.Message).Msg("notice")
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(n Notice) {
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}

// Recorder keeps every notice it receives.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of what was recorded.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Last returns the most recent notice, if any.
func (r *Recorder) Last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}
