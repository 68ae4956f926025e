package runtimeinit

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"screen-queue/src/clipboard"
	"screen-queue/src/config"
	"screen-queue/src/hostipc"
	"screen-queue/src/logutil"
)

type Options struct {
	LoadOptions config.LoadOptions
	// Console receives human-readable logs. Nil means stderr.
	Console io.Writer
	// InitClipboard prepares the clipboard when responses are copied.
	InitClipboard bool
}

// Bootstrap loads configuration and installs logging. Clipboard failures
// are logged and disable copying rather than aborting startup.
func Bootstrap(opts Options) (*config.Config, error) {
	cfg, err := config.LoadWithOptions(opts.LoadOptions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	logutil.Setup(logutil.Options{
		EnableFileLogging: cfg.EnableFileLogging,
		Level:             cfg.LogLevel,
		Console:           opts.Console,
	})

	if opts.InitClipboard && cfg.CopyResponse {
		if err := clipboard.Init(); err != nil {
			log.Warn().Err(err).Msg("clipboard unavailable, response copying disabled")
			cfg.CopyResponse = false
		}
	}

	log.Info().
		Str("capture_hotkey", cfg.CaptureHotkey).
		Str("process_hotkey", cfg.ProcessHotkey).
		Str("process_url", cfg.ProcessURL).
		Int("queue_capacity", cfg.QueueCapacity).
		Int("submit_timeout_sec", cfg.SubmitTimeoutSec).
		Msg("configuration loaded")
	return cfg, nil
}

// Ports returns the configured host port range.
func Ports(cfg *config.Config) hostipc.PortRange {
	return hostipc.PortRange{Start: cfg.HostPortStart, End: cfg.HostPortEnd}
}

// WaitForHost polls the port range until a host answers or ctx ends.
func WaitForHost(ctx context.Context, ports hostipc.PortRange, interval time.Duration) (int, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	for attempt := 1; ; attempt++ {
		if port, ok := hostipc.DetectHostPort(ctx, ports); ok {
			return port, nil
		}
		if attempt == 1 {
			log.Info().Int("start", ports.Start).Int("end", ports.End).Msg("waiting for screen host")
		}
		select {
		case <-ctx.Done():
			return 0, errors.Wrap(ctx.Err(), "no screen host found")
		case <-time.After(interval):
		}
	}
}
