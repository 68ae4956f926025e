package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvPathEnvVar = "SCREEN_QUEUE_ENV"

	DefaultCaptureHotkey = "Primary+Shift+H"
	DefaultProcessHotkey = "Primary+Shift+J"
	DefaultProcessURL    = "http://0.0.0.0:8000/process_images"
	DefaultSubmitTimeout = 30
	DefaultQueueCapacity = 10
	DefaultLogLevel      = "info"
	DefaultHostPortStart = 49600
	DefaultHostPortEnd   = 49650
)

type LoadOptions struct {
	ProcessURLOverride    string
	ScreenshotDirOverride string
	LogLevelOverride      string
}

type Config struct {
	CaptureHotkey     string
	ProcessHotkey     string
	ProcessURL        string
	SubmitTimeoutSec  int
	QueueCapacity     int
	EnableFileLogging bool
	LogLevel          string
	ScreenshotDir     string
	HostPortStart     int
	HostPortEnd       int
	CopyResponse      bool
	EnableOverlay     bool
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Sources in priority order:
	// 1) .env in the executable directory
	// 2) otherwise the file named by SCREEN_QUEUE_ENV
	// Variables already present in the environment win over both.
	if envPath := resolveEnvPath(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	start, end := resolvePortRange(
		getEnvInt("HOST_PORT_START", DefaultHostPortStart),
		getEnvInt("HOST_PORT_END", DefaultHostPortEnd),
	)

	cfg := &Config{
		CaptureHotkey:     getEnvWithDefault("CAPTURE_HOTKEY", DefaultCaptureHotkey),
		ProcessHotkey:     getEnvWithDefault("PROCESS_HOTKEY", DefaultProcessHotkey),
		ProcessURL:        override(opts.ProcessURLOverride, getEnvWithDefault("PROCESS_URL", DefaultProcessURL)),
		SubmitTimeoutSec:  getEnvInt("SUBMIT_TIMEOUT_SEC", DefaultSubmitTimeout),
		QueueCapacity:     getEnvInt("QUEUE_CAPACITY", DefaultQueueCapacity),
		EnableFileLogging: getEnvBool("ENABLE_FILE_LOGGING", false),
		LogLevel:          override(opts.LogLevelOverride, getEnvWithDefault("LOG_LEVEL", DefaultLogLevel)),
		ScreenshotDir:     override(opts.ScreenshotDirOverride, getEnvWithDefault("SCREENSHOT_DIR", defaultScreenshotDir())),
		HostPortStart:     start,
		HostPortEnd:       end,
		CopyResponse:      getEnvBool("COPY_RESPONSE", false),
		EnableOverlay:     getEnvBool("ENABLE_OVERLAY", true),
	}

	return cfg, nil
}

func resolveEnvPath() string {
	if execPath, err := os.Executable(); err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvPathEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func defaultScreenshotDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "screen-queue", "screenshots")
}

// resolvePortRange clamps to [1024, 65535] and orders the bounds.
func resolvePortRange(start, end int) (int, int) {
	if start < 1024 {
		start = 1024
	}
	if end > 65535 {
		end = 65535
	}
	if end < start {
		start, end = end, start
	}
	return start, end
}

func override(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt ignores unparsable and non-positive values.
func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}
