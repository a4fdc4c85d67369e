// Package actors wraps the external actor directory that resolves actor
// ids to display name and role. Missing ids are simply absent from lookup
// results; the directory never errors for unknown ids.
package actors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Actor is the directory's view of an acting party.
type Actor struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Directory resolves actor ids in bulk.
type Directory interface {
	Lookup(ctx context.Context, ids []string) (map[string]Actor, error)
}

// StaticDirectory resolves from a fixed map; used in tests and single-node
// setups.
type StaticDirectory map[string]Actor

func (d StaticDirectory) Lookup(_ context.Context, ids []string) (map[string]Actor, error) {
	out := make(map[string]Actor, len(ids))
	for _, id := range ids {
		if a, ok := d[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

// HTTPDirectory calls a remote actor directory.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory creates a client for the directory at baseURL.
func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *HTTPDirectory) Lookup(ctx context.Context, ids []string) (map[string]Actor, error) {
	if len(ids) == 0 {
		return map[string]Actor{}, nil
	}
	u := d.baseURL + "/v1/actors?ids=" + url.QueryEscape(strings.Join(ids, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build directory request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor directory returned %d", resp.StatusCode)
	}

	var out map[string]Actor
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode directory response: %w", err)
	}
	return out, nil
}
