// Package synth is the inference collaborator boundary: something that
// turns (prompt, duration, genre) into raw audio bytes. The model runtime
// itself lives behind a remote endpoint and is not this service's concern.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrSynthUnavailable = errors.New("synth endpoint not configured")

type Generator interface {
	Generate(ctx context.Context, prompt string, duration int, genre string) ([]byte, error)
	Available() bool
}

type HTTPGeneratorConfig struct {
	BaseURL    string
	APIToken   string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// HTTPGenerator calls a deployed inference endpoint that answers with raw
// audio bytes. Generation runs for minutes, so the timeout must cover the
// full inference call, not a typical request round-trip.
type HTTPGenerator struct {
	baseURL    string
	apiToken   string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

func NewHTTPGenerator(config HTTPGeneratorConfig) *HTTPGenerator {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &HTTPGenerator{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		apiToken:   strings.TrimSpace(config.APIToken),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
	}
}

func (g *HTTPGenerator) Available() bool {
	return g.baseURL != ""
}

func (g *HTTPGenerator) Generate(ctx context.Context, prompt string, duration int, genre string) ([]byte, error) {
	if !g.Available() {
		return nil, ErrSynthUnavailable
	}

	payload, err := json.Marshal(map[string]any{
		"prompt":   prompt,
		"duration": duration,
		"genre":    genre,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synth payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		audio, callErr := g.call(ctx, payload)
		if callErr == nil {
			return audio, nil
		}
		lastErr = callErr

		if !isRetryable(callErr) || attempt == g.maxRetries {
			break
		}
		backoff := time.Duration(500*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

func (g *HTTPGenerator) call(ctx context.Context, payload []byte) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create synth request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if g.apiToken != "" {
		request.Header.Set("Authorization", "Bearer "+g.apiToken)
	}

	response, err := g.httpClient.Do(request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("synth timeout: %w", err)
		}
		return nil, fmt.Errorf("synth transport error: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read synth body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return nil, &synthHTTPError{StatusCode: response.StatusCode, Message: message}
	}
	if len(body) == 0 {
		return nil, errors.New("synth response without audio payload")
	}
	return body, nil
}

type synthHTTPError struct {
	StatusCode int
	Message    string
}

func (e *synthHTTPError) Error() string {
	return fmt.Sprintf("synth endpoint status %d: %s", e.StatusCode, e.Message)
}

func isRetryable(err error) bool {
	var httpErr *synthHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return false
}
