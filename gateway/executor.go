package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const defaultResponseBodyLimit int64 = 4 << 20

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type request struct {
	method   string
	segments []string
	query    url.Values
	body     any
}

func (r request) path() string {
	return "/" + strings.Join(r.segments, "/")
}

type response struct {
	statusCode int
	body       []byte
	duration   time.Duration
}

// execute performs one platform call under the client's timeout and rate
// limit. Non-2xx statuses are returned as responses, not errors.
func (c *Client) execute(ctx context.Context, req request) (response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint, err := c.resolveURL(req.segments, req.query)
	if err != nil {
		return response{}, err
	}

	requestCtx := ctx
	cancel := func() {}
	if c.timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(requestCtx); err != nil {
			return response{}, gatewayWrapError(
				err,
				goerrors.CategoryRateLimit,
				"gateway: outbound rate limit wait",
				http.StatusTooManyRequests,
				map[string]any{"method": req.method, "path": req.path()},
			)
		}
	}

	var body io.Reader
	if req.body != nil {
		encoded, err := json.Marshal(req.body)
		if err != nil {
			return response{}, gatewayWrapError(
				err,
				goerrors.CategoryInternal,
				"gateway: encode request body",
				http.StatusInternalServerError,
				map[string]any{"method": req.method, "path": req.path()},
			)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(requestCtx, req.method, endpoint, body)
	if err != nil {
		return response{}, gatewayWrapError(
			err,
			goerrors.CategoryBadInput,
			"gateway: create http request",
			http.StatusBadRequest,
			map[string]any{"method": req.method, "url": endpoint},
		)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	startedAt := time.Now()
	httpRes, err := c.doer.Do(httpReq)
	if err != nil {
		return response{}, gatewayWrapError(
			err,
			goerrors.CategoryExternal,
			"gateway: execute http request",
			http.StatusBadGateway,
			map[string]any{"method": req.method, "url": endpoint},
		)
	}
	defer httpRes.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpRes.Body, c.maxBodyBytes+1))
	if err != nil {
		return response{}, gatewayWrapError(
			err,
			goerrors.CategoryExternal,
			"gateway: read response body",
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode},
		)
	}
	if int64(len(payload)) > c.maxBodyBytes {
		return response{}, gatewayError(
			fmt.Sprintf("gateway: response body exceeds limit of %d bytes", c.maxBodyBytes),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode, "response_limit_b": c.maxBodyBytes},
		)
	}
	return response{statusCode: httpRes.StatusCode, body: payload, duration: time.Since(startedAt)}, nil
}

// expectSuccess turns a non-2xx response into an external failure.
func expectSuccess(res response, method string, path string) error {
	if res.statusCode >= 200 && res.statusCode < 300 {
		return nil
	}
	category := goerrors.CategoryExternal
	switch res.statusCode {
	case http.StatusUnauthorized:
		category = goerrors.CategoryAuth
	case http.StatusForbidden:
		category = goerrors.CategoryAuthz
	case http.StatusTooManyRequests:
		category = goerrors.CategoryRateLimit
	}
	return gatewayError(
		fmt.Sprintf("gateway: platform returned status %d", res.statusCode),
		category,
		http.StatusBadGateway,
		map[string]any{
			"method":      method,
			"path":        path,
			"status_code": res.statusCode,
			"body":        truncate(string(res.body), 512),
		},
	)
}

func (c *Client) resolveURL(segments []string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", gatewayError(
			"gateway: base url is invalid",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"base_url": c.baseURL},
		)
	}
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	endpoint := base.JoinPath(escaped...)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
