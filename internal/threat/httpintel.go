package threat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPReputationConfig configures an HTTPReputation client.
type HTTPReputationConfig struct {
	BaseURL   string        // e.g. "http://intel:8088"; lookups go to {BaseURL}/v1/indicators/{value}
	APIKey    string        // sent as X-API-Key when non-empty
	Timeout   time.Duration // per-request timeout
	CacheSize int           // max cached indicators
	CacheTTL  time.Duration // how long a verdict stays cached
	RPS       float64       // outbound request rate limit; 0 = unlimited
}

// HTTPReputation is a ReputationOracle backed by a JSON lookup service.
// Verdicts are cached per indicator; the set score is the maximum.
type HTTPReputation struct {
	cfg        HTTPReputationConfig
	httpClient *http.Client
	cache      *expirable.LRU[string, int]
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewHTTPReputation creates an HTTPReputation client.
func NewHTTPReputation(cfg HTTPReputationConfig, logger *zap.Logger) *HTTPReputation {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 10000
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 15 * time.Minute
	}

	limit := rate.Inf
	burst := 1
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
		burst = max(1, int(cfg.RPS))
	}

	return &HTTPReputation{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      expirable.NewLRU[string, int](cfg.CacheSize, nil, cfg.CacheTTL),
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

type indicatorVerdict struct {
	Indicator string `json:"indicator"`
	Score     int    `json:"score"`
}

// Reputation implements ReputationOracle. Any failed lookup fails the whole
// call; callers treat that as an unavailable oracle.
func (h *HTTPReputation) Reputation(ctx context.Context, indicators []string) (int, error) {
	best := 0
	for _, ind := range indicators {
		if ind == "" {
			continue
		}
		if score, ok := h.cache.Get(ind); ok {
			best = max(best, score)
			continue
		}

		score, err := h.lookup(ctx, ind)
		if err != nil {
			return 0, err
		}
		h.cache.Add(ind, score)
		best = max(best, score)
	}
	return best, nil
}

// CacheLen returns the number of cached verdicts.
func (h *HTTPReputation) CacheLen() int {
	return h.cache.Len()
}

func (h *HTTPReputation) lookup(ctx context.Context, indicator string) (int, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := h.cfg.BaseURL + "/v1/indicators/" + url.PathEscape(indicator)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build intel request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", h.cfg.APIKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("intel lookup %q: %w", indicator, err)
	}
	defer resp.Body.Close()

	// Unknown indicators are clean, not errors.
	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck
		return 0, fmt.Errorf("intel lookup %q: HTTP %d", indicator, resp.StatusCode)
	}

	var v indicatorVerdict
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&v); err != nil {
		return 0, fmt.Errorf("decode intel verdict: %w", err)
	}

	h.logger.Debug("intel verdict",
		zap.String("indicator", indicator),
		zap.Int("score", v.Score),
	)
	return min(max(v.Score, 0), 100), nil
}
