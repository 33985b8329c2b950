package stream

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config is injected at construction; a Stream never reads package-level settings.
type Config struct {
	// BaseURL is the server root, e.g. "ws://localhost:8000" or "https://lens.example.com".
	BaseURL string
	// Model is appended as ?model= when set (watson, gemini).
	Model string

	HeartbeatInterval time.Duration

	// RetrySchedule is indexed by attempt; the last entry repeats once exhausted.
	RetrySchedule []time.Duration

	// MaxRetries caps reconnect attempts; zero means the default, negative disables reconnects.
	MaxRetries int

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns 30s pings, 1/2/3/5/8s retries and 5 attempts.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		RetrySchedule: []time.Duration{
			1 * time.Second,
			2 * time.Second,
			3 * time.Second,
			5 * time.Second,
			8 * time.Second,
		},
		MaxRetries:   5,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if len(c.RetrySchedule) == 0 {
		c.RetrySchedule = def.RetrySchedule
	}
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = def.MaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// BuildURL derives the per-task stream endpoint from a server root.
// http(s) roots are mapped to ws(s).
func BuildURL(base, taskID, model string) (string, error) {
	if taskID == "" {
		return "", fmt.Errorf("stream: empty task id")
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("stream: invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("stream: unsupported scheme %q", u.Scheme)
	}
	u.Path = u.Path + "/ws/" + url.PathEscape(taskID)
	u.RawQuery = ""
	if model != "" {
		q := url.Values{}
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
