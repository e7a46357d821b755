// Package remote drives an external bot-defense service over HTTP. Pending
// challenges are resolved by polling the service.
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
	"github.com/Sentinel-Gate/botbridge/internal/port/outbound"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultPollInterval = 2 * time.Second
	defaultMaxPolls     = 150

	// maxResponseBodySize bounds what is read from the service.
	maxResponseBodySize = 1024 * 1024
)

// ErrUnexpectedStatus matches any StatusError with errors.Is.
var ErrUnexpectedStatus = errors.New("unexpected status from bot-defense service")

// StatusError reports a non-2xx reply from the service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: service returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is reports whether target is ErrUnexpectedStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Challenge states reported by the service.
const (
	statePending   = "pending"
	stateSolved    = "solved"
	stateCancelled = "cancelled"
)

type sessionRequest struct {
	AppID       string `json:"app_id"`
	Interceptor string `json:"interceptor"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type submitRequest struct {
	URL        string            `json:"url"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body"`
}

type submitResponse struct {
	Handled     bool   `json:"handled"`
	ChallengeID string `json:"challenge_id"`
}

type challengeResponse struct {
	State string `json:"state"`
}

// Client implements outbound.Capability against a remote service.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	timeout      time.Duration
	pollInterval time.Duration
	maxPolls     int
	logger       *slog.Logger

	mu        sync.RWMutex
	sessionID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout bounds each request to the service.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPollInterval sets the delay between challenge polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithMaxPolls sets how many polls a challenge gets before it is cancelled.
func WithMaxPolls(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPolls = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid service URL %q", baseURL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout:      defaultTimeout,
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPolls,
		logger:       slog.Default(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start opens a session for policy. A second call returns ErrAlreadyStarted.
func (c *Client) Start(ctx context.Context, policy challenge.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return challenge.ErrAlreadyStarted
	}

	var resp sessionResponse
	req := sessionRequest{AppID: policy.AppID, Interceptor: string(policy.Interceptor)}
	if err := c.do(ctx, "start session", http.MethodPost, "/v1/sessions", req, &resp); err != nil {
		return err
	}
	if resp.SessionID == "" {
		return errors.New("start session: service returned no session id")
	}
	c.sessionID = resp.SessionID
	return nil
}

func (c *Client) session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// HeadersForRequest fetches the current headers. Any failure returns nil.
func (c *Client) HeadersForRequest(_ *challenge.RequestDescriptor) challenge.HeaderSet {
	id := c.session()
	if id == "" {
		return nil
	}
	var headers map[string]string
	if err := c.do(c.ctx, "get headers", http.MethodGet, "/v1/sessions/"+url.PathEscape(id)+"/headers", nil, &headers); err != nil {
		c.logger.Warn("failed to fetch headers", "error", err)
		return nil
	}
	return headers
}

// HandleResponse submits the response. A transport failure declines.
func (c *Client) HandleResponse(resp challenge.ResponseDescriptor, body []byte, onComplete func(challenge.Outcome)) bool {
	id := c.session()
	if id == "" {
		return false
	}

	var out submitResponse
	req := submitRequest{URL: resp.URL, StatusCode: resp.StatusCode, Headers: resp.Headers, Body: string(body)}
	if err := c.do(c.ctx, "submit response", http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/responses", req, &out); err != nil {
		c.logger.Warn("failed to submit response; declining", "error", err)
		return false
	}
	if !out.Handled {
		return false
	}
	if out.ChallengeID == "" {
		c.logger.Warn("service handled response without a challenge id; declining")
		return false
	}

	c.wg.Add(1)
	go c.poll(out.ChallengeID, onComplete)
	return true
}

func (c *Client) poll(id string, onComplete func(challenge.Outcome)) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	path := "/v1/challenges/" + url.PathEscape(id)
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		var state challengeResponse
		if err := c.do(c.ctx, "poll challenge", http.MethodGet, path, nil, &state); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Debug("challenge poll failed", "challenge_id", id, "error", err)
			continue
		}
		switch state.State {
		case stateSolved:
			onComplete(challenge.OutcomeSolved)
			return
		case stateCancelled:
			onComplete(challenge.OutcomeCancelled)
			return
		case statePending, "":
		default:
			c.logger.Warn("unknown challenge state", "challenge_id", id, "state", state.State)
		}
	}

	c.logger.Info("challenge poll budget exhausted", "challenge_id", id, "polls", c.maxPolls)
	onComplete(challenge.OutcomeCancelled)
}

// do sends a JSON request and decodes a JSON reply into out when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

// Close stops all pollers without invoking their callbacks.
func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	c.httpClient.CloseIdleConnections()
	return nil
}

// Compile-time check that Client implements outbound.Capability.
var _ outbound.Capability = (*Client)(nil)
