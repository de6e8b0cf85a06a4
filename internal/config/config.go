// Package config provides configuration management for basileus.
//
// The daemon reads a line-based "key = value" file: '#' starts a comment,
// blank lines are ignored, values may be double-quoted, surrounding
// whitespace is stripped. Environment variables (BASILEUS_*) override
// file values, file values override defaults.
package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/tworaz/basileus/internal/log"
)

// Config holds the fully resolved daemon configuration.
type Config struct {
	ListenAddr    string   // bind address for the HTTP server
	ListenPort    int      // bind port for the HTTP server
	DocumentRoot  string   // root directory for static file serving
	DatabasePath  string   // catalog SQLite file
	MusicDirs     []string // directories scanned for audio files
	SchedThreads  int      // scheduler worker count; 0 means NumCPU-1
	LogLevel      string   // zerolog level name
	RateLimit     int      // requests per minute per client IP; 0 disables
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		ListenAddr: "0.0.0.0",
		ListenPort: 8080,
		LogLevel:   "info",
	}
}

// Load reads the configuration file at path, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the HTTP listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ListenAddr, strconv.Itoa(c.ListenPort))
}

// Workers resolves the scheduler pool size: an explicit positive value
// wins, otherwise NumCPU-1 with a floor of one.
func (c *Config) Workers() int {
	if c.SchedThreads > 0 {
		return c.SchedThreads
	}
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Validate checks that the configuration is complete enough to start.
func (c *Config) Validate() error {
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("listening-port out of range: %d", c.ListenPort)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database-path is required")
	}
	if len(c.MusicDirs) == 0 {
		return fmt.Errorf("at least one music-dir is required")
	}
	if c.SchedThreads < 0 {
		return fmt.Errorf("scheduler-threads must not be negative")
	}
	return nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	logger := log.WithComponent("config")

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("%s:%d: missing '=' separator", path, lineNo)
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if err := c.set(key, value); err != nil {
			if err == errUnknownKey {
				logger.Warn().
					Str("event", "config.unknown_key").
					Str("key", key).
					Int("line", lineNo).
					Msg("ignoring unknown configuration key")
				continue
			}
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

var errUnknownKey = fmt.Errorf("unknown key")

func (c *Config) set(key, value string) error {
	switch key {
	case "listening-address":
		c.ListenAddr = value
	case "listening-port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("listening-port: %w", err)
		}
		c.ListenPort = port
	case "document-root":
		c.DocumentRoot = value
	case "database-path":
		c.DatabasePath = value
	case "music-dir":
		c.MusicDirs = append(c.MusicDirs, value)
	case "scheduler-threads":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("scheduler-threads: %w", err)
		}
		c.SchedThreads = n
	case "log-level":
		c.LogLevel = value
	case "rate-limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("rate-limit: %w", err)
		}
		c.RateLimit = n
	default:
		return errUnknownKey
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BASILEUS_LISTEN"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("BASILEUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.ListenPort = port
		}
	}
	if v := os.Getenv("BASILEUS_DB"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("BASILEUS_DOCROOT"); v != "" {
		c.DocumentRoot = v
	}
	if v := os.Getenv("BASILEUS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}
