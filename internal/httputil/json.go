package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kjannette/marketdash-backend/internal/models"
)

const maxBodyBytes = 8 << 20

// GetJSON issues a GET and decodes a 2xx JSON body into out. Failures wrap
// models.ErrUpstreamUnavailable or models.ErrMalformedResponse.
func GetJSON(ctx context.Context, client *http.Client, cfg RetryConfig, url string, out any) error {
	return doJSON(ctx, client, cfg, http.MethodGet, url, nil, out)
}

// PostJSON marshals body, POSTs it and decodes a 2xx JSON response into out.
// A nil out discards the response body.
func PostJSON(ctx context.Context, client *http.Client, cfg RetryConfig, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return doJSON(ctx, client, cfg, http.MethodPost, url, payload, out)
}

// ReadBody issues a request and returns the raw 2xx body, for callers that
// must sniff the response shape before decoding.
func ReadBody(ctx context.Context, client *http.Client, cfg RetryConfig, method, url string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}
	resp, err := send(ctx, client, cfg, method, url, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", models.ErrUpstreamUnavailable, err)
	}
	return raw, nil
}

// StatusCode extracts the HTTP status from an error returned by this
// package, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func doJSON(ctx context.Context, client *http.Client, cfg RetryConfig, method, url string, payload []byte, out any) error {
	resp, err := send(ctx, client, cfg, method, url, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %w", models.ErrMalformedResponse, err)
	}
	return nil
}

func send(ctx context.Context, client *http.Client, cfg RetryConfig, method, url string, payload []byte) (*http.Response, error) {
	resp, err := Do(ctx, client, cfg, func() (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, &StatusError{Code: resp.StatusCode, Body: string(snippet)})
	}
	return resp, nil
}
