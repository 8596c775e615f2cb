package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-entitlements/core"
)

const defaultClientTimeout = 30 * time.Second

// Client talks to the charting platform's access API. Privileged accounts use
// the bulk endpoints and can replace expirations.
type Client struct {
	baseURL      string
	timeout      time.Duration
	limiter      *rate.Limiter
	doer         HTTPDoer
	headers      map[string]string
	maxBodyBytes int64
	privileged   bool
	logger       core.Logger
}

type Option func(*Client)

func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.doer = doer
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for key, value := range headers {
			c.headers[key] = value
		}
	}
}

func WithAPIKey(key string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			c.headers["Authorization"] = "Bearer " + trimmed
		}
	}
}

func WithResponseBodyLimit(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.maxBodyBytes = limit
		}
	}
}

func NewClient(cfg core.GatewayConfig, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, gatewayError(
			"gateway: base url is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			nil,
		)
	}
	client := &Client{
		baseURL:      baseURL,
		timeout:      cfg.Timeout,
		headers:      map[string]string{},
		maxBodyBytes: defaultResponseBodyLimit,
		privileged:   cfg.Privileged,
		logger:       glog.Nop(),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.doer == nil {
		client.doer = &http.Client{Timeout: defaultClientTimeout}
	}
	if _, err := client.resolveURL(nil, nil); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) SupportsReplace() bool {
	return c != nil && c.privileged
}

func (c *Client) Grant(ctx context.Context, username string, scriptIDs []string, duration core.DurationType) ([]core.AccessOutcome, error) {
	if err := requireCallArgs(username, scriptIDs); err != nil {
		return nil, err
	}
	if c.privileged {
		return c.mutate(ctx, "grant", request{
			method:   http.MethodPost,
			segments: []string{"access", "bulk"},
			body: map[string]any{
				"usernames": []string{username},
				"scriptIds": scriptIDs,
				"duration":  string(duration),
			},
		}, username, scriptIDs, accessFlagItem)
	}
	return c.mutate(ctx, "grant", request{
		method:   http.MethodPost,
		segments: []string{"access", username},
		body: map[string]any{
			"scriptIds": scriptIDs,
			"duration":  string(duration),
		},
	}, username, scriptIDs, statusStringItem)
}

func (c *Client) Remove(ctx context.Context, username string, scriptIDs []string) ([]core.AccessOutcome, error) {
	if err := requireCallArgs(username, scriptIDs); err != nil {
		return nil, err
	}
	if c.privileged {
		return c.mutate(ctx, "remove", request{
			method:   http.MethodPost,
			segments: []string{"access", "bulk-remove"},
			body: map[string]any{
				"usernames": []string{username},
				"scriptIds": scriptIDs,
				"options":   map[string]any{"preValidateUsers": true},
			},
		}, username, scriptIDs, removalItem)
	}
	return c.mutate(ctx, "remove", request{
		method:   http.MethodDelete,
		segments: []string{"access", username},
		body:     map[string]any{"scriptIds": scriptIDs},
	}, username, scriptIDs, removalItem)
}

func (c *Client) ReplaceExpiration(ctx context.Context, username string, scriptIDs []string, expiresAt time.Time) ([]core.AccessOutcome, error) {
	if err := requireCallArgs(username, scriptIDs); err != nil {
		return nil, err
	}
	if !c.privileged {
		return nil, gatewayError(
			"gateway: replace expiration requires a privileged account",
			goerrors.CategoryOperation,
			http.StatusNotImplemented,
			map[string]any{"username": username},
		)
	}
	return c.mutate(ctx, "replace", request{
		method:   http.MethodPost,
		segments: []string{"access", "replace"},
		body: map[string]any{
			"usernames":  []string{username},
			"scriptIds":  scriptIDs,
			"expiration": expiresAt.UTC().Format(time.RFC3339),
		},
	}, username, scriptIDs, statusStringItem)
}

// Status reads the platform view. Unlike the mutating calls, a whole-request
// failure is returned as an error.
func (c *Client) Status(ctx context.Context, username string, scriptIDs []string) ([]core.AccessOutcome, error) {
	if err := requireCallArgs(username, scriptIDs); err != nil {
		return nil, err
	}
	encodedIDs, err := json.Marshal(scriptIDs)
	if err != nil {
		return nil, gatewayWrapError(err, goerrors.CategoryInternal, "gateway: encode script ids", http.StatusInternalServerError, nil)
	}
	req := request{
		method:   http.MethodGet,
		segments: []string{"access", username},
		query:    url.Values{"scriptIds": []string{string(encodedIDs)}},
	}
	res, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := expectSuccess(res, req.method, req.path()); err != nil {
		return nil, err
	}
	items, err := decodeItems(res.body)
	if err != nil {
		return nil, gatewayWrapError(err, goerrors.CategoryExternal, "gateway: decode status response", http.StatusBadGateway, map[string]any{"username": username})
	}
	return normalize(scriptIDs, username, items, statusQueryItem), nil
}

func (c *Client) ValidateUsername(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, gatewayError("gateway: username is required", goerrors.CategoryBadInput, http.StatusBadRequest, nil)
	}
	req := request{method: http.MethodGet, segments: []string{"users", username}}
	res, err := c.execute(ctx, req)
	if err != nil {
		return false, err
	}
	if res.statusCode == http.StatusNotFound {
		return false, nil
	}
	if err := expectSuccess(res, req.method, req.path()); err != nil {
		return false, err
	}
	return true, nil
}

// mutate runs a mutating call and converts every whole-request failure into
// per-item failures so callers always get one outcome per script id.
func (c *Client) mutate(
	ctx context.Context,
	operation string,
	req request,
	username string,
	scriptIDs []string,
	adapt itemAdapter,
) ([]core.AccessOutcome, error) {
	logger := c.logger
	if logger == nil {
		logger = glog.Nop()
	}
	res, err := c.execute(ctx, req)
	if err == nil {
		err = expectSuccess(res, req.method, req.path())
	}
	if err != nil {
		logger.Warn("platform request failed",
			"operation", operation,
			"username", username,
			"items", len(scriptIDs),
			"status_code", res.statusCode,
			"error", err,
		)
		return c.requestFailure(scriptIDs, res.statusCode, err), nil
	}
	items, err := decodeItems(res.body)
	if err != nil {
		logger.Warn("platform response undecodable",
			"operation", operation,
			"username", username,
			"error", err,
		)
		return c.requestFailure(scriptIDs, res.statusCode, err), nil
	}
	logger.Debug("platform request completed",
		"operation", operation,
		"username", username,
		"items", len(scriptIDs),
		"duration_ms", res.duration.Milliseconds(),
	)
	return normalize(scriptIDs, username, items, adapt), nil
}

func (c *Client) requestFailure(scriptIDs []string, statusCode int, cause error) []core.AccessOutcome {
	outcomes := failAll(scriptIDs, cause)
	for index := range outcomes {
		outcomes[index].RawPayload["status_code"] = statusCode
	}
	return outcomes
}

func requireCallArgs(username string, scriptIDs []string) error {
	fields := []goerrors.FieldError{}
	if strings.TrimSpace(username) == "" {
		fields = append(fields, goerrors.FieldError{Field: "username", Message: "required"})
	}
	if len(scriptIDs) == 0 {
		fields = append(fields, goerrors.FieldError{Field: "script_ids", Message: "required"})
	}
	if len(fields) == 0 {
		return nil
	}
	return goerrors.NewValidation("gateway: invalid access call", fields...).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.AccessErrorValidation)
}

var _ core.AccessGateway = (*Client)(nil)
