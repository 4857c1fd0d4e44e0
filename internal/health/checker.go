// Package health probes the pipeline's upstream dependencies (database,
// threat intel service, audit chain) and reports transitions between
// healthy and degraded.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is a dependency's health.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks a single dependency.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

type funcProbe struct {
	name string
	fn   func(ctx context.Context) error
}

func (p funcProbe) Name() string                    { return p.name }
func (p funcProbe) Check(ctx context.Context) error { return p.fn(ctx) }

// NewProbe wraps fn as a Probe, e.g. NewProbe("database", pool.Ping).
func NewProbe(name string, fn func(ctx context.Context) error) Probe {
	return funcProbe{name: name, fn: fn}
}

// HTTPProbe succeeds when the URL answers 2xx to HEAD, falling back to GET.
type HTTPProbe struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPProbe creates an HTTPProbe. A nil client uses http.DefaultClient;
// the checker bounds each call with its probe timeout.
func NewHTTPProbe(name, url string, client *http.Client) *HTTPProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProbe{name: name, url: url, client: client}
}

// Name implements Probe.
func (p *HTTPProbe) Name() string { return p.name }

// Check implements Probe.
func (p *HTTPProbe) Check(ctx context.Context) error {
	code, err := p.do(ctx, http.MethodHead)
	if err == nil && code >= 200 && code < 300 {
		return nil
	}
	code, err = p.do(ctx, http.MethodGet)
	if err != nil {
		return err
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("%s: HTTP %d", p.url, code)
	}
	return nil
}

func (p *HTTPProbe) do(ctx context.Context, method string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// TransitionFunc is called when a dependency changes status.
type TransitionFunc func(name string, status Status)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, success bool)

// Checker runs periodic dependency probes. A dependency is degraded after
// FailThreshold consecutive failures and healthy again after one success.
type Checker struct {
	probes       []Probe
	cfg          Config
	logger       *zap.Logger
	onTransition TransitionFunc
	onMetrics    MetricsRecordFunc

	mu         sync.Mutex
	failCounts map[string]int
	statuses   map[string]Status
}

// New creates a Checker. Every dependency starts healthy.
func New(probes []Probe, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	statuses := make(map[string]Status, len(probes))
	for _, p := range probes {
		statuses[p.Name()] = StatusHealthy
	}
	return &Checker{
		probes:     probes,
		cfg:        cfg,
		logger:     logger,
		failCounts: make(map[string]int, len(probes)),
		statuses:   statuses,
	}
}

// SetTransition configures the status transition callback.
func (h *Checker) SetTransition(fn TransitionFunc) {
	h.onTransition = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Run probes immediately, then every CheckInterval until ctx is done.
func (h *Checker) Run(ctx context.Context) {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently and waits for them.
func (h *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range h.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p.Check(pctx)
			cancel()
			h.record(p.Name(), err)
		}()
	}
	wg.Wait()
}

func (h *Checker) record(name string, err error) {
	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}

	h.mu.Lock()
	prev := h.statuses[name]
	if err == nil {
		h.failCounts[name] = 0
		h.statuses[name] = StatusHealthy
	} else {
		h.failCounts[name]++
		if h.failCounts[name] >= h.cfg.FailThreshold {
			h.statuses[name] = StatusDegraded
		}
	}
	cur := h.statuses[name]
	count := h.failCounts[name]
	h.mu.Unlock()

	if err != nil {
		h.logger.Debug("health: probe failed",
			zap.String("dependency", name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
	}
	if cur == prev {
		return
	}
	if cur == StatusDegraded {
		h.logger.Warn("health: degraded", zap.String("dependency", name), zap.Int("fail_count", count), zap.Error(err))
	} else {
		h.logger.Info("health: recovered", zap.String("dependency", name))
	}
	if h.onTransition != nil {
		h.onTransition(name, cur)
	}
}

// Snapshot returns the current status of every dependency.
func (h *Checker) Snapshot() map[string]Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]Status, len(h.statuses))
	for k, v := range h.statuses {
		out[k] = v
	}
	return out
}

// Healthy reports whether no dependency is degraded.
func (h *Checker) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.statuses {
		if s == StatusDegraded {
			return false
		}
	}
	return true
}
