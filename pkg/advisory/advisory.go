// Package advisory wraps the external advisory-text collaborator that
// stands in for image analysis on OBSERVED events. The collaborator is
// strictly best-effort: its absence or failure never fails the write.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// FallbackText is embedded when no media is supplied or no collaborator is
// configured. The text is fixed; the common field symptom it speaks to is
// leaf yellowing from nitrogen deficiency.
const FallbackText = "Automated image analysis is unavailable for this observation. " +
	"Yellowing leaves are most commonly associated with nitrogen deficiency; " +
	"collect a soil sample and consult an agronomist before applying inputs."

// FailureText is embedded when the collaborator was invoked but failed.
const FailureText = "Automated image analysis failed for this observation. " +
	"Review the attached media manually."

// Analyzer produces advisory text for an image reference plus free text.
// A nil Analyzer means no collaborator is configured; the event log then
// embeds FallbackText.
type Analyzer interface {
	Analyze(ctx context.Context, imageRef, details string) (string, error)
}

// HTTPAnalyzer calls a remote advisory service.
type HTTPAnalyzer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAnalyzer creates a client for the advisory service at baseURL.
func NewHTTPAnalyzer(baseURL string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, imageRef, details string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"image_ref": imageRef,
		"details":   details,
	})
	if err != nil {
		return "", fmt.Errorf("marshal advisory request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build advisory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("advisory request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("advisory service returned %d", resp.StatusCode)
	}

	var out struct {
		Advisory string `json:"advisory"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode advisory response: %w", err)
	}
	return out.Advisory, nil
}
