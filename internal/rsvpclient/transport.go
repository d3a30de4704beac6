// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package rsvpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/model"
)

// ErrTransport marks failures where no usable answer came back.
var ErrTransport = errors.New("rsvp transport failed")

// maxResponseSize bounds the body read from the server.
const maxResponseSize = 1 << 20

type Transport interface {
	ChangeStatus(ctx context.Context, eventID string, status model.AttendanceStatus) (*model.RSVPResult, error)
}

type TransportOption func(*HTTPTransport)

func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithToken authenticates every request with a session token.
func WithToken(token string) TransportOption {
	return func(t *HTTPTransport) { t.token = token }
}

// HTTPTransport posts status changes to the site.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	token   string
}

func NewHTTPTransport(baseURL string, opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ChangeStatus returns the decoded answer of the server, including
// rejections. Only an unreadable answer is an error.
func (t *HTTPTransport) ChangeStatus(ctx context.Context, eventID string, status model.AttendanceStatus) (*model.RSVPResult, error) {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "HTTPTransport.ChangeStatus")
	defer span.End()

	form := url.Values{"status": {string(status)}}
	target := t.baseURL + "/events/" + url.PathEscape(eventID) + "/rsvp"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	var result model.RSVPResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&result); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: status %d: %w", ErrTransport, resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		result.Success = false
	}
	return &result, nil
}
