package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the snapcheck runner and server.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	TabURLFilter string

	// Local browser launch (only used when nothing listens on the CDP port)
	LaunchBrowser bool
	Headless      bool
	BrowserBinary string
	ProfileDir    string
	WindowSize    string

	// Timeouts
	EvalTimeoutMS    int
	CommandTimeoutMS int
	RequestTimeoutMS int

	// Logging
	LogLevel string
	LogFile  string

	// HTTP API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Output
	DataDir        string
	ArtifactsDir   string
	BufferSize     int
	MaxFileSizeMB  int
	CaptureNetwork bool

	NotifyURL string
	SuitePath string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:     getEnvOrDefault("SNAPCHECK_TAB_URL_FILTER", ""),
		LaunchBrowser:    getEnvBoolOrDefault("SNAPCHECK_LAUNCH_BROWSER", true),
		Headless:         getEnvBoolOrDefault("SNAPCHECK_HEADLESS", false),
		BrowserBinary:    getEnvOrDefault("SNAPCHECK_BROWSER_BINARY", ""),
		ProfileDir:       getEnvOrDefault("SNAPCHECK_PROFILE_DIR", "./browser_profile"),
		WindowSize:       getEnvOrDefault("SNAPCHECK_WINDOW_SIZE", "1280,900"),
		EvalTimeoutMS:    getEnvIntOrDefault("SNAPCHECK_EVAL_TIMEOUT_MS", 5000),
		CommandTimeoutMS: getEnvIntOrDefault("SNAPCHECK_COMMAND_TIMEOUT_MS", 4000),
		RequestTimeoutMS: getEnvIntOrDefault("SNAPCHECK_REQUEST_TIMEOUT_MS", 10000),
		LogLevel:         strings.ToLower(getEnvOrDefault("SNAPCHECK_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("SNAPCHECK_LOG_FILE", "logs/snapcheck.log"),
		BindAddr:         getEnvOrDefault("SNAPCHECK_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   getEnvListOrDefault("SNAPCHECK_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		PortAutoFallback: getEnvBoolOrDefault("SNAPCHECK_PORT_AUTO_FALLBACK", true),
		DataDir:          getEnvOrDefault("SNAPCHECK_DATA_DIR", "./snapcheck_data"),
		ArtifactsDir:     getEnvOrDefault("SNAPCHECK_ARTIFACTS_DIR", "./snapcheck_artifacts"),
		BufferSize:       getEnvIntOrDefault("SNAPCHECK_BUFFER_SIZE", 1000),
		MaxFileSizeMB:    getEnvIntOrDefault("SNAPCHECK_MAX_FILE_SIZE_MB", 50),
		CaptureNetwork:   getEnvBoolOrDefault("SNAPCHECK_CAPTURE_NETWORK", true),
		NotifyURL:        getEnvOrDefault("SNAPCHECK_NOTIFY_URL", ""),
		SuitePath:        getEnvOrDefault("SNAPCHECK_SUITE_CONFIG", "./snapcheck.yaml"),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.CommandTimeoutMS < 500 {
		cfg.CommandTimeoutMS = 500
	}
	if cfg.RequestTimeoutMS < 1000 {
		cfg.RequestTimeoutMS = 1000
	}
	return cfg, nil
}

// CDPURL returns the full CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
