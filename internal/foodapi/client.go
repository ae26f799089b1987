// Package foodapi is a client for the API Ninjas recipe and nutrition endpoints.
package foodapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/sony/gobreaker"
)

// Constants for the API Ninjas client
const (
	// DefaultBaseURL is the API Ninjas production endpoint
	DefaultBaseURL = "https://api.api-ninjas.com"
	// DefaultTimeout bounds a single HTTP request
	DefaultTimeout = 10 * time.Second
	// DefaultFailureThreshold is the number of consecutive failures that opens the circuit
	DefaultFailureThreshold = 5
	// DefaultOpenTimeout is how long the circuit stays open before probing again
	DefaultOpenTimeout = 30 * time.Second

	recipePath    = "/v1/recipe"
	nutritionPath = "/v1/nutrition"
	apiKeyHeader  = "X-Api-Key"
	maxErrorBody  = 200
)

// Collaborator names used in errors and metrics.
const (
	CollaboratorRecipes   = "recipes"
	CollaboratorNutrition = "nutrition"
)

// Opts holds configuration for the API client.
type Opts struct {
	APIKey           string
	BaseURL          string
	Timeout          time.Duration
	HTTPClient       *http.Client
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Option configures the API client.
type Option func(*Opts)

// WithAPIKey sets the API Ninjas key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithHTTPClient sets the HTTP client. Its Timeout is left untouched.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithCircuitBreaker tunes the breaker: it opens after threshold consecutive
// failures and tries again after openTimeout.
func WithCircuitBreaker(threshold uint32, openTimeout time.Duration) Option {
	return func(o *Opts) {
		o.FailureThreshold = threshold
		o.OpenTimeout = openTimeout
	}
}

// Client calls the API Ninjas recipe and nutrition endpoints.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New creates a client. An API key is required.
func New(opts ...Option) (*Client, error) {
	cfg := Opts{
		BaseURL:          DefaultBaseURL,
		Timeout:          DefaultTimeout,
		FailureThreshold: DefaultFailureThreshold,
		OpenTimeout:      DefaultOpenTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, &models.ConfigError{Key: "CALORIE_NINJAS_API_KEY", Reason: "not set"}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	threshold := cfg.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "api-ninjas",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("foodapi.Client: circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	slog.Debug("foodapi.New: client created", "base_url", cfg.BaseURL, "timeout", cfg.Timeout, "api_key_set", true)
	return &Client{apiKey: cfg.APIKey, baseURL: cfg.BaseURL, http: httpClient, breaker: breaker}, nil
}

// SearchRecipes returns at most maxResults recipes matching query.
func (c *Client) SearchRecipes(ctx context.Context, query string, maxResults int) ([]models.Recipe, error) {
	var raw []recipeDTO
	if err := c.get(ctx, CollaboratorRecipes, recipePath, query, &raw); err != nil {
		return nil, err
	}
	if maxResults > 0 && len(raw) > maxResults {
		raw = raw[:maxResults]
	}
	recipes := make([]models.Recipe, 0, len(raw))
	for _, r := range raw {
		recipes = append(recipes, r.toModel())
	}
	slog.Debug("foodapi.SearchRecipes: received recipes", "count", len(recipes))
	return recipes, nil
}

// LookupNutrition returns the nutrition breakdown of a free-text food description.
func (c *Client) LookupNutrition(ctx context.Context, query string) (models.NutritionReport, error) {
	var raw []nutritionDTO
	if err := c.get(ctx, CollaboratorNutrition, nutritionPath, query, &raw); err != nil {
		return nil, err
	}
	report := make(models.NutritionReport, 0, len(raw))
	for _, n := range raw {
		report = append(report, n.toModel())
	}
	slog.Debug("foodapi.LookupNutrition: received items", "count", len(report))
	return report, nil
}

// isBreakerSuccess reports whether a call leaves the breaker's failure count alone.
// A 4xx answer means the API is up and rejected this request, so it does not count.
func isBreakerSuccess(err error) bool {
	var te *models.TransportError
	if errors.As(err, &te) && te.StatusCode >= 400 && te.StatusCode < 500 {
		return true
	}
	return err == nil
}

// get performs one GET through the circuit breaker and decodes the JSON body into out.
// Every failure is returned as a *models.TransportError.
func (c *Client) get(ctx context.Context, collaborator, path, query string, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.do(ctx, collaborator, path, query, out)
	})
	if err == nil {
		return nil
	}
	var te *models.TransportError
	if errors.As(err, &te) {
		return te
	}
	// Breaker rejections never reach do.
	slog.Warn("foodapi.Client: request rejected by circuit breaker", "collaborator", collaborator, "error", err)
	return &models.TransportError{Collaborator: collaborator, Cause: err}
}

func (c *Client) do(ctx context.Context, collaborator, path, query string, out any) error {
	u := c.baseURL + path + "?" + url.Values{"query": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &models.TransportError{Collaborator: collaborator, Cause: err}
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	slog.Debug("foodapi.Client: sending request", "collaborator", collaborator, "path", path)
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("foodapi.Client: request failed", "collaborator", collaborator, "error", err)
		return &models.TransportError{Collaborator: collaborator, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		slog.Error("foodapi.Client: unexpected status", "collaborator", collaborator, "status", resp.StatusCode, "body", string(body))
		return &models.TransportError{Collaborator: collaborator, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		slog.Error("foodapi.Client: failed to decode response", "collaborator", collaborator, "error", err)
		return &models.TransportError{Collaborator: collaborator, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
