package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"resty.dev/v3"

	"investcore/internal/apperr"
	"investcore/internal/config"
	"investcore/internal/models"
	"investcore/internal/repository"
)

// ModelKind names one of the prediction models behind the provider.
type ModelKind string

const (
	ModelApollo ModelKind = "apollo"
	ModelIgnis  ModelKind = "ignis"
	ModelGaia   ModelKind = "gaia"
)

func AllModelKinds() []ModelKind {
	return []ModelKind{ModelApollo, ModelIgnis, ModelGaia}
}

// ParseModelKind converts an external name into a ModelKind.
func ParseModelKind(v string) (ModelKind, error) {
	switch k := ModelKind(strings.ToLower(strings.TrimSpace(v))); k {
	case ModelApollo, ModelIgnis, ModelGaia:
		return k, nil
	}
	return "", apperr.Validation("unknown model %q", v)
}

type HealthStatus struct {
	Healthy bool
	Detail  string
	Latency time.Duration
}

type PredictRequest struct {
	Symbols []string `json:"symbols"`
	Horizon string   `json:"horizon,omitempty"`
}

type Prediction struct {
	Model  string                     `json:"model"`
	Prices map[string]decimal.Decimal `json:"prices"`
	At     time.Time                  `json:"at"`
}

// ModelClient is the capability set every prediction model exposes.
type ModelClient interface {
	Kind() ModelKind
	Health(ctx context.Context) (HealthStatus, error)
	Predict(ctx context.Context, req PredictRequest) (*Prediction, error)
	Retrain(ctx context.Context) error
}

// HTTPModelClient reaches one model's REST endpoints.
type HTTPModelClient struct {
	kind   ModelKind
	client *resty.Client
}

func NewHTTPModelClient(kind ModelKind, cfg config.ModelEndpointConfig, logger *zap.Logger) *HTTPModelClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)
	if logger != nil {
		client.SetLogger(logger.Sugar())
	}
	return &HTTPModelClient{kind: kind, client: client}
}

func (c *HTTPModelClient) Kind() ModelKind {
	return c.kind
}

func (c *HTTPModelClient) Close() error {
	return c.client.Close()
}

func (c *HTTPModelClient) Health(ctx context.Context) (HealthStatus, error) {
	started := time.Now()
	resp, err := c.client.R().SetContext(ctx).Get("/health")
	latency := time.Since(started)
	if err != nil {
		return HealthStatus{Latency: latency, Detail: err.Error()}, fmt.Errorf("%s health: %w", c.kind, err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return HealthStatus{Latency: latency, Detail: resp.Status()}, nil
	}
	return HealthStatus{Healthy: true, Latency: latency, Detail: resp.Status()}, nil
}

func (c *HTTPModelClient) Predict(ctx context.Context, req PredictRequest) (*Prediction, error) {
	resp, err := c.client.R().
		SetBody(req).
		SetResult(&Prediction{}).
		SetError(&apiError{}).
		SetContext(ctx).
		Post("/predict")
	if err != nil {
		return nil, fmt.Errorf("%s predict: %w", c.kind, err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		msg := resp.Status()
		if e, ok := resp.Error().(*apiError); ok && e.text() != "" {
			msg = e.text()
		}
		return nil, fmt.Errorf("%s predict: %s", c.kind, msg)
	}
	out := resp.Result().(*Prediction)
	if out.Model == "" {
		out.Model = string(c.kind)
	}
	return out, nil
}

func (c *HTTPModelClient) Retrain(ctx context.Context) error {
	resp, err := c.client.R().
		SetError(&apiError{}).
		SetContext(ctx).
		Post("/retrain")
	if err != nil {
		return fmt.Errorf("%s retrain: %w", c.kind, err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("%s retrain: %s", c.kind, resp.Status())
	}
	return nil
}

// Registry resolves model clients by kind.
type Registry struct {
	mu      sync.RWMutex
	clients map[ModelKind]ModelClient
	Repo    repository.ModelHealthRepository
	Logger  *zap.Logger
	Now     func() time.Time
}

func NewRegistry(repo repository.ModelHealthRepository, logger *zap.Logger) *Registry {
	return &Registry{clients: map[ModelKind]ModelClient{}, Repo: repo, Logger: logger, Now: time.Now}
}

// NewRegistryFromConfig registers an HTTP client for every model with a base URL.
func NewRegistryFromConfig(cfg config.ModelsConfig, repo repository.ModelHealthRepository, logger *zap.Logger) *Registry {
	r := NewRegistry(repo, logger)
	endpoints := map[ModelKind]config.ModelEndpointConfig{
		ModelApollo: cfg.Apollo,
		ModelIgnis:  cfg.Ignis,
		ModelGaia:   cfg.Gaia,
	}
	for kind, ep := range endpoints {
		if strings.TrimSpace(ep.BaseURL) == "" {
			continue
		}
		r.Register(NewHTTPModelClient(kind, ep, logger))
	}
	return r
}

func (r *Registry) Register(c ModelClient) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.clients[c.Kind()] = c
	r.mu.Unlock()
}

func (r *Registry) Get(kind ModelKind) (ModelClient, error) {
	r.mu.RLock()
	c, ok := r.clients[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("model %s is not configured", kind)
	}
	return c, nil
}

func (r *Registry) Kinds() []ModelKind {
	r.mu.RLock()
	out := make([]ModelKind, 0, len(r.clients))
	for k := range r.clients {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HealthAll probes every registered model and records one check per model.
// A failed probe is recorded as unhealthy rather than aborting the sweep.
func (r *Registry) HealthAll(ctx context.Context) ([]models.ModelHealthCheck, error) {
	kinds := r.Kinds()
	out := make([]models.ModelHealthCheck, 0, len(kinds))
	for _, kind := range kinds {
		c, err := r.Get(kind)
		if err != nil {
			continue
		}
		status, err := c.Health(ctx)
		check := models.ModelHealthCheck{
			Model:     string(kind),
			Healthy:   err == nil && status.Healthy,
			Detail:    status.Detail,
			LatencyMs: status.Latency.Milliseconds(),
			CheckedAt: r.Now().UTC(),
		}
		if err != nil {
			check.Detail = err.Error()
			if r.Logger != nil {
				r.Logger.Warn("model health probe failed", zap.String("model", string(kind)), zap.Error(err))
			}
		}
		if r.Repo != nil {
			if err := r.Repo.InsertModelHealthCheck(ctx, &check); err != nil {
				return out, fmt.Errorf("record %s health: %w", kind, err)
			}
		}
		out = append(out, check)
	}
	return out, nil
}
