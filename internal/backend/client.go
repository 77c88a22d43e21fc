package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/posterparlor/storefront/internal/platform/httpx"
	"github.com/posterparlor/storefront/internal/platform/session"
)

// ErrForbidden is returned for 403 responses: signed in, but not allowed.
var ErrForbidden = errors.New("backend: forbidden")

// Doer sends a backend request. session.Gateway satisfies it.
type Doer interface {
	Do(ctx context.Context, req *session.Request) (*session.Response, error)
}

// Client exposes typed storefront endpoints over an authenticated Doer.
type Client struct {
	doer Doer
}

// NewClient constructs a Client.
func NewClient(doer Doer) (*Client, error) {
	if doer == nil {
		return nil, errors.New("backend: doer is required")
	}
	return &Client{doer: doer}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// call sends body as JSON and decodes the data member of the response envelope into out.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body any, idemKey string, out any) error {
	req := &session.Request{
		Method:         method,
		Path:           path,
		Query:          query,
		IdempotencyKey: idemKey,
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: %s: encode request: %w", op, err)
		}
		req.Body = payload
	}

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend: %s: %w", op, statusError(resp))
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("backend: %s: decode response: %w", op, err)
	}
	if len(bytes.TrimSpace(env.Data)) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return fmt.Errorf("backend: %s: response carried no data", op)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("backend: %s: decode data: %w", op, err)
	}
	return nil
}

func statusError(resp *session.Response) error {
	apiErr := httpx.DecodeError(resp.StatusCode, bytes.NewReader(resp.Body))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", session.ErrAuthExpired, apiErr)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrForbidden, apiErr)
	default:
		return apiErr
	}
}

// ServerMessage extracts the backend's human readable message from err, if any.
func ServerMessage(err error) string {
	if apiErr, ok := httpx.AsAPIError(err); ok {
		return apiErr.ServerMessage()
	}
	return ""
}
