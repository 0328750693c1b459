package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-voice-gateway/backend/pkg/logger"
	"ai-voice-gateway/backend/pkg/resilience"
)

// ResolverClient calls the query resolution provider, which answers a
// user utterance with text plus optional classification metadata.
type ResolverClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	breaker    *resilience.CircuitBreaker
	log        *logger.Logger
}

func NewResolverClient(baseURL, apiKey string, breaker *resilience.CircuitBreaker, log *logger.Logger) *ResolverClient {
	return &ResolverClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		breaker:    breaker,
		log:        log,
	}
}

// Resolve answers one query for a user. Responses without metadata are
// classified UNKNOWN with zero confidence.
func (c *ResolverClient) Resolve(ctx context.Context, userID, query string) (*QueryResult, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	type queryRequest struct {
		UserID string `json:"userId"`
		Query  string `json:"query"`
	}

	jsonData, err := json.Marshal(queryRequest{UserID: userID, Query: query})
	if err != nil {
		return nil, fmt.Errorf("error marshaling query request: %w", err)
	}

	var result QueryResult
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/query", bytes.NewBuffer(jsonData))
		if err != nil {
			return fmt.Errorf("error creating query request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-Api-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("error making query request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("query request failed with status code %d: %s", resp.StatusCode, string(bodyBytes))
		}

		var queryResponse struct {
			Response string `json:"response"`
			Metadata *struct {
				Intent     string  `json:"intent"`
				Confidence float64 `json:"confidence"`
			} `json:"metadata"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&queryResponse); err != nil {
			return fmt.Errorf("error decoding query response: %w", err)
		}

		result.Response = queryResponse.Response
		result.Intent = IntentUnknown
		if queryResponse.Metadata != nil {
			result.Intent = NormalizeIntent(queryResponse.Metadata.Intent)
			result.Confidence = queryResponse.Metadata.Confidence
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// ClearContext asks the resolver to drop its stored context for a user.
// The gateway no longer calls this on any client frame; it exists for
// operational tooling.
func (c *ResolverClient) ClearContext(ctx context.Context, userID string) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	type clearRequest struct {
		UserID string `json:"userId"`
	}

	jsonData, err := json.Marshal(clearRequest{UserID: userID})
	if err != nil {
		return fmt.Errorf("error marshaling clear-context request: %w", err)
	}

	return c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/clear-context", bytes.NewBuffer(jsonData))
		if err != nil {
			return fmt.Errorf("error creating clear-context request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-Api-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("error making clear-context request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("clear-context request failed with status code %d: %s", resp.StatusCode, string(bodyBytes))
		}

		return nil
	})
}
