package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fortitwin/interviewd/internal/session"
)

// ErrTimeout marks a reply that did not arrive within the configured
// bound. The coordinator substitutes a fallback turn; it never retries.
var ErrTimeout = errors.New("inference request timed out")

// Client produces one assistant reply for an ordered interview
// transcript. Implementations perform no internal retries.
type Client interface {
	GenerateReply(ctx context.Context, transcript []session.Turn) (string, error)
}

// Config controls client construction.
type Config struct {
	Mode    string
	HTTPURL string
	Timeout time.Duration
}

// NewClient builds a client for the configured mode. "auto" picks the
// HTTP backend when a URL is set and otherwise falls back to the mock.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPClient(cfg.HTTPURL, cfg.Timeout), nil
		}
		return NewMockClient(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("inference HTTP url is required for http mode")
		}
		return NewHTTPClient(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported inference mode %q", cfg.Mode)
	}
}
