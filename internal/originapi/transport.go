// Package originapi talks to the origin service's HTTP surfaces: the service
// worker script that embeds the VAPID public key, and the push endpoint
// registration API.
package originapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

// maxBodySize bounds every response body read by the transport.
const maxBodySize = 8 << 20

// Transport handles low-level HTTP communication with the origin service.
// It retries 429 responses and logs each request.
type Transport struct {
	client *http.Client
	logger *log.Logger
}

// NewTransport creates a transport. A nil tlsConf uses the system roots.
func NewTransport(tlsConf *tls.Config, logger *log.Logger) *Transport {
	client := &http.Client{Timeout: 30 * time.Second}
	if tlsConf != nil {
		client.Transport = &http.Transport{TLSClientConfig: tlsConf}
	}
	return &Transport{client: client, logger: logger}
}

// NewTransportWithClient wraps an existing HTTP client.
func NewTransportWithClient(client *http.Client, logger *log.Logger) *Transport {
	return &Transport{client: client, logger: logger}
}

// Client returns the underlying HTTP client.
func (t *Transport) Client() *http.Client { return t.client }

// Do executes an HTTP request with automatic retry on 429 (Too Many Requests).
// It respects the Retry-After header, capping the wait at one minute.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	const maxRetries = 2
	const maxWait = time.Minute

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("originapi: read request body: %w", err)
		}
	}

	for attempt := range maxRetries + 1 {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			logf(t.logger, "http %s %s → %d", req.Method, req.URL.Redacted(), resp.StatusCode)
			return resp, nil
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		resp.Body.Close()

		wait := time.Duration(2<<attempt) * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
		wait = min(wait, maxWait)
		logf(t.logger, "http %s %s → 429, retrying in %v (attempt %d/%d)",
			req.Method, req.URL.Redacted(), wait, attempt+1, maxRetries)

		select {
		case <-time.After(wait):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	return nil, fmt.Errorf("originapi: retry loop exhausted")
}

// doAndRead executes the request and reads the response body.
func (t *Transport) doAndRead(req *http.Request) ([]byte, int, error) {
	resp, err := t.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("originapi: read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// GetText fetches url and returns the body. Non-2xx statuses are errors.
func (t *Transport) GetText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("originapi: new request: %w", err)
	}
	body, status, err := t.doAndRead(req)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", &StatusError{Status: status, Body: string(body)}
	}
	return string(body), nil
}

// logf logs a message if the logger is non-nil.
func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
