// Package audit ships best-effort audit events to the platform log service.
// Failures never reach the caller's request path.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"
)

// Recorder accepts audit events. Implementations must not block callers for
// long and must swallow delivery errors.
type Recorder interface {
	Record(ctx context.Context, action, level string, details map[string]any)
}

type Client struct {
	Agent  string
	APIKey string
	Logger *zap.Logger

	http *resty.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type CreateLogRequest struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Level      string         `json:"level"`
	Details    map[string]any `json:"details"`
	SessionKey string         `json:"session_key"`
	Metadata   map[string]any `json:"metadata"`
}

func NewClient(baseURL, apiKey, agent string, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("audit base url is empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("audit api key is empty")
	}
	if strings.TrimSpace(agent) == "" {
		agent = "investcore"
	}
	return &Client{
		Agent:  agent,
		APIKey: strings.TrimSpace(apiKey),
		Logger: logger,
		http:   resty.New().SetBaseURL(base).SetTimeout(10 * time.Second),
	}, nil
}

func (c *Client) Close() error {
	return c.http.Close()
}

func (c *Client) Login(ctx context.Context) error {
	resp, err := c.http.R().
		SetBody(map[string]any{"api_key": c.APIKey}).
		SetResult(&loginResponse{}).
		SetContext(ctx).
		Post("/api/v1/auth/login")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("audit login http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	lr := resp.Result().(*loginResponse)
	exp, _ := time.Parse(time.RFC3339, strings.TrimSpace(lr.ExpiresAt))

	c.mu.Lock()
	c.token = strings.TrimSpace(lr.Token)
	c.expiresAt = exp
	c.mu.Unlock()
	return nil
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// EnsureToken logs in when no token is held or it expires within two minutes.
func (c *Client) EnsureToken(ctx context.Context) error {
	c.mu.RLock()
	tok, exp := c.token, c.expiresAt
	c.mu.RUnlock()
	if tok == "" || (!exp.IsZero() && time.Until(exp) < 2*time.Minute) {
		return c.Login(ctx)
	}
	return nil
}

func (c *Client) CreateLog(ctx context.Context, req CreateLogRequest) error {
	if err := c.EnsureToken(ctx); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetAuthToken(c.Token()).
		SetBody(req).
		SetContext(ctx).
		Post("/api/v1/logs")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("audit create log http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

// Record sends one event with a short detached deadline so request
// cancellation does not drop it.
func (c *Client) Record(ctx context.Context, action, level string, details map[string]any) {
	if c == nil {
		return
	}
	ctx2, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.CreateLog(ctx2, CreateLogRequest{
		Agent:    c.Agent,
		Action:   action,
		Level:    level,
		Details:  details,
		Metadata: map[string]any{},
	})
	if err != nil && c.Logger != nil {
		c.Logger.Debug("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

// Logger records audit events to the process log only.
type Logger struct {
	L *zap.Logger
}

func (l Logger) Record(ctx context.Context, action, level string, details map[string]any) {
	if l.L == nil {
		return
	}
	fields := []zap.Field{zap.String("action", action), zap.Any("details", details)}
	switch level {
	case LevelError:
		l.L.Error("audit", fields...)
	case LevelWarn:
		l.L.Warn("audit", fields...)
	default:
		l.L.Info("audit", fields...)
	}
}

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

func levelFromStatus(status int) string {
	if status >= 500 {
		return LevelError
	}
	if status >= 400 {
		return LevelWarn
	}
	return LevelInfo
}
