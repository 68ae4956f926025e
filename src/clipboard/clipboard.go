package clipboard

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.design/x/clipboard"
)

var (
	initOnce sync.Once
	initErr  error
	writeMu  sync.Mutex
)

// Init prepares the system clipboard. It is safe to call more than once.
func Init() error {
	initOnce.Do(func() {
		initErr = errors.Wrap(clipboard.Init(), "clipboard init")
	})
	return initErr
}

// Write performs a mutex-guarded clipboard write to prevent corruption under parallel writes.
func Write(text string) error {
	if err := Init(); err != nil {
		return err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// ResponseSink copies analysis responses to the clipboard when enabled.
type ResponseSink struct {
	Enabled bool
	write   func(string) error
}

func NewResponseSink(enabled bool) *ResponseSink {
	return &ResponseSink{Enabled: enabled, write: Write}
}

// Deliver copies body if the sink is enabled and body is non-empty.
func (s *ResponseSink) Deliver(body []byte) error {
	if s == nil || !s.Enabled || len(body) == 0 {
		return nil
	}
	if err := s.write(string(body)); err != nil {
		return err
	}
	log.Debug().Int("bytes", len(body)).Msg("clipboard: response copied")
	return nil
}
