package platform

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

	"go.uber.org/zap"
)

var logger = zap.NewNop()

// SetLogger installs the logger used for schema-validation and login
// diagnostics. Passing nil restores the no-op default.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// Redirects are never followed automatically: both platforms signal
// outcomes through 302s whose Set-Cookie headers we need to capture.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// apiRequest describes one platform call. At most one of json/form is set.
type apiRequest struct {
	method  string
	url     string
	json    any
	form    url.Values
	cookies map[string]string
	bearer  string
	headers map[string]string
	accept  string
}

// send performs the request. The caller owns the response body.
func send(ctx context.Context, r apiRequest) (*http.Response, error) {
	var body io.Reader
	contentType := ""
	switch {
	case r.json != nil:
		data, err := json.Marshal(r.json)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case r.form != nil:
		body = strings.NewReader(r.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}
	for name, value := range r.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	for name, value := range r.headers {
		req.Header.Set(name, value)
	}

	return httpClient.Do(req)
}

// readBody drains and closes the response body.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// decodeBody unmarshals a response body into out. Platforms evolve
// undocumented fields and replace payloads with plain messages, so a body
// that doesn't match the expected shape is logged and treated as "no
// data", never as a fatal error. Status codes outside 2xx/4xx (platforms
// report business negatives with 4xx bodies) are rejected the same way.
func decodeBody(resp *http.Response, body []byte, out any) bool {
	ok := (resp.StatusCode >= 200 && resp.StatusCode <= 299) ||
		(resp.StatusCode >= 400 && resp.StatusCode <= 499)
	if !ok {
		logger.Warn("unexpected response status",
			zap.String("url", resp.Request.URL.String()),
			zap.Int("status", resp.StatusCode))
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		logger.Warn("response schema mismatch",
			zap.String("url", resp.Request.URL.String()),
			zap.Error(err))
		return false
	}
	return true
}

// decodeResponse reads and decodes in one step for callers that don't need
// the raw body.
func decodeResponse(resp *http.Response, out any) bool {
	body, err := readBody(resp)
	if err != nil {
		logger.Warn("read response body",
			zap.String("url", resp.Request.URL.String()), zap.Error(err))
		return false
	}
	return decodeBody(resp, body, out)
}

// captureCookies merges a response's Set-Cookie values over base.
func captureCookies(resp *http.Response, base map[string]string) map[string]string {
	cookies := make(map[string]string, len(base))
	for name, value := range base {
		cookies[name] = value
	}
	for _, c := range resp.Cookies() {
		cookies[c.Name] = c.Value
	}
	return cookies
}
