package authority

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

	"github.com/stemsi/exstem-engine/internal/model"
)

// HTTPClient talks to proctord over its JSON API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient builds a client for baseURL authenticated with a device token.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// apiEnvelope mirrors the server response envelope.
type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *HTTPClient) PushResult(ctx context.Context, rec *model.ResultRecord) (model.CandidateStatusRecord, error) {
	var out model.CandidateStatusRecord
	err := c.do(ctx, http.MethodPut, "/api/v1/device/results/"+url.PathEscape(rec.ID), rec, &out)
	return out, err
}

func (c *HTTPClient) SessionStatus(ctx context.Context, sessionID string) (model.SessionStatusRecord, error) {
	var out model.SessionStatusRecord
	err := c.do(ctx, http.MethodGet, "/api/v1/device/sessions/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

func (c *HTTPClient) CandidateStatus(ctx context.Context, resultID string) (model.CandidateStatusRecord, error) {
	var out model.CandidateStatusRecord
	err := c.do(ctx, http.MethodGet, "/api/v1/device/results/"+url.PathEscape(resultID), nil, &out)
	return out, err
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	var env apiEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("%w: decode %s %s: %v", ErrUnavailable, method, path, err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		msg := resp.Status
		if env.Error != nil {
			msg = env.Error.Code + ": " + env.Error.Message
		}
		return fmt.Errorf("%w: %s %s: %s", ErrUnavailable, method, path, msg)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrUnavailable, err)
	}
	return nil
}
