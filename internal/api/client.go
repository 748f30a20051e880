// Package api is the request/response client for the support backend's
// JSON API. Every response carries a {success, message} envelope; a false
// success is reported the same way as an HTTP failure.
package api

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

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/soyeahso/supportsync/internal/config"
	"github.com/soyeahso/supportsync/internal/logging"
	"github.com/soyeahso/supportsync/internal/version"
)

const maxResponseBytes = 8 << 20

// ErrUnsuccessful matches every *Error via errors.Is.
var ErrUnsuccessful = errors.New("request unsuccessful")

// Error is a failed API call: a non-2xx status or success=false.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Op, msg, e.Status)
}

func (e *Error) Unwrap() error { return ErrUnsuccessful }

// Client talks to the backend API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logging.Logger
}

// New creates a client from config.
func New(cfg config.APIConfig, log *logging.Logger) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		log:     log.Sub("api"),
	}
}

// envelope is the decoded response body. Payload keys vary per endpoint.
type envelope map[string]any

func (e envelope) success() bool {
	ok, _ := e["success"].(bool)
	return ok
}

func (e envelope) message() string {
	s, _ := e["message"].(string)
	return s
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) (envelope, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: marshal", op)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: new request", op)
	}
	reqID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read body", op)
	}
	c.log.Debug().
		Str("op", op).
		Str("requestId", reqID).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("api call")

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &Error{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return nil, errors.Wrapf(err, "%s: parse body", op)
	}
	if resp.StatusCode >= 300 || !env.success() {
		return nil, &Error{Op: op, Status: resp.StatusCode, Message: env.message()}
	}
	return env, nil
}

func sessionPath(id string, rest ...string) string {
	p := "/sessions/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}
