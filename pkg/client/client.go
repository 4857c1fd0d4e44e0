package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Report kinds accepted by Report.
const (
	ReportCompliance = "compliance"
	ReportIAM        = "iam"
	ReportIncidents  = "incidents"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Event is a canonical security event as accepted by the score endpoint.
type Event struct {
	ID         string            `json:"id,omitempty"`
	EntityID   string            `json:"entity_id"`
	Source     string            `json:"source,omitempty"`
	Action     string            `json:"action"`
	Timestamp  *time.Time        `json:"ts,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Indicators []string          `json:"indicators,omitempty"`
}

// Assessment is the risk assessment attached to a scored event.
type Assessment struct {
	Score      int       `json:"risk_score"`
	Reasons    []string  `json:"risk_reasons"`
	Severity   string    `json:"severity"`
	AssessedAt time.Time `json:"enriched_at"`
}

// ScoreResult is the response of Score.
type ScoreResult struct {
	Event      Event       `json:"event"`
	Assessment *Assessment `json:"enrichment,omitempty"`
}

// ActionResult is the response decision for an ingested record.
type ActionResult struct {
	Status    string   `json:"status"`
	Playbook  string   `json:"playbook,omitempty"`
	TicketID  string   `json:"ticket_id,omitempty"`
	Actions   []string `json:"actions,omitempty"`
	Error     string   `json:"error,omitempty"`
	EventID   string   `json:"event_id"`
	EntityID  string   `json:"entity_id"`
	RiskScore int      `json:"risk_score"`
	Reason    string   `json:"reason,omitempty"`
}

// IngestResult is the response of Ingest.
type IngestResult struct {
	Event  ScoreResult  `json:"event"`
	Result ActionResult `json:"result"`
}

// AuditOverview is the response of AuditOverview.
type AuditOverview struct {
	Entries int    `json:"entries"`
	Root    string `json:"root"`
}

// Client is the secpipeline API entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an operator token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed endpoint.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a Client for the API at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Score asks the service to score ev without triggering a response.
func (c *Client) Score(ctx context.Context, ev Event) (*ScoreResult, error) {
	var out ScoreResult
	if err := c.postJSON(ctx, "/api/v1/score", ev, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ingest submits one raw activity record for full processing.
func (c *Client) Ingest(ctx context.Context, raw []byte) (*IngestResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/events", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var out IngestResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode ingest response: %w", err)
	}
	return &out, nil
}

// Report fetches one report as raw JSON. An empty kind fetches all three.
func (c *Client) Report(ctx context.Context, kind string) (json.RawMessage, error) {
	path := "/api/v1/reports"
	switch kind {
	case "":
	case ReportCompliance, ReportIAM, ReportIncidents:
		path += "/" + kind
	default:
		return nil, fmt.Errorf("unknown report kind %q", kind)
	}
	return c.get(ctx, path)
}

// AuditOverview returns the ledger length and root hash.
func (c *Client) AuditOverview(ctx context.Context) (*AuditOverview, error) {
	body, err := c.get(ctx, "/api/v1/audit")
	if err != nil {
		return nil, err
	}
	var out AuditOverview
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode audit overview: %w", err)
	}
	return &out, nil
}

// AuditVerify walks the ledger server-side. It returns nil when the chain
// is intact.
func (c *Client) AuditVerify(ctx context.Context) error {
	body, err := c.get(ctx, "/api/v1/audit/verify")
	if err != nil {
		return err
	}
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode verify response: %w", err)
	}
	if !out.Valid {
		return fmt.Errorf("audit ledger invalid: %s", out.Error)
	}
	return nil
}

// AuditEntries returns the newest limit ledger entries as raw JSON.
func (c *Client) AuditEntries(ctx context.Context, limit int) (json.RawMessage, error) {
	return c.get(ctx, "/api/v1/audit/entries?limit="+strconv.Itoa(limit))
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(body)
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return body, nil
}
