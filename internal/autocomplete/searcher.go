// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package autocomplete

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/model"
)

const (
	PathAll      = "/api/users/search"
	PathApproved = "/api/users/search/approved"
)

// UserSearcher queries the user search endpoints of the site.
type UserSearcher struct {
	client *http.Client
	base   string
	path   string
	token  string
}

// NewUserSearcher searches through path, PathAll or PathApproved. An
// empty token sends no Authorization header.
func NewUserSearcher(client *http.Client, baseURL, path, token string) *UserSearcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &UserSearcher{
		client: client,
		base:   strings.TrimSuffix(baseURL, "/"),
		path:   path,
		token:  token,
	}
}

func (s *UserSearcher) Search(ctx context.Context, query string, limit int) ([]model.UserSummary, error) {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "UserSearcher.Search")
	defer span.End()

	q := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+s.path+"?"+q.Encode(), nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("user search: unexpected status %d", resp.StatusCode)
		span.RecordError(err)
		return nil, err
	}

	var users []model.UserSummary
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("user search: %w", err)
	}
	return users, nil
}
