package logutil

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileName = "screen_queue.log"
	maxSizeMB   = 10
	maxArchives = 3
)

type Options struct {
	EnableFileLogging bool
	Level             string
	// Console is where human-readable output goes. Nil means stderr.
	Console io.Writer
}

// Setup installs the global zerolog logger. File logging rotates at 10MB and
// keeps 3 archives.
func Setup(opts Options) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"}}
	if opts.EnableFileLogging {
		writers = append(writers, &lumberjack.Logger{
			Filename:   logFileName,
			MaxSize:    maxSizeMB,
			MaxBackups: maxArchives,
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Truncate shortens s to maxLen runes for log output and escapes line breaks.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen]) + "..."
	}
	r := strings.NewReplacer("\r", "\\r", "\n", "\\n", "\t", "\\t")
	return r.Replace(s)
}
