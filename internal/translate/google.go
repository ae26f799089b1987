package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGoogleEndpoint is the public translate endpoint used by browser clients.
const DefaultGoogleEndpoint = "https://translate.googleapis.com/translate_a/single"

const defaultGoogleTimeout = 10 * time.Second

// GoogleOpts holds configuration for GoogleTranslator.
type GoogleOpts struct {
	Endpoint   string
	HTTPClient *http.Client
}

// GoogleOption configures a GoogleTranslator.
type GoogleOption func(*GoogleOpts)

// WithGoogleEndpoint overrides the translate endpoint, mainly for tests.
func WithGoogleEndpoint(endpoint string) GoogleOption {
	return func(o *GoogleOpts) {
		o.Endpoint = endpoint
	}
}

// WithGoogleHTTPClient sets the HTTP client used for requests.
func WithGoogleHTTPClient(c *http.Client) GoogleOption {
	return func(o *GoogleOpts) {
		o.HTTPClient = c
	}
}

// GoogleTranslator calls the keyless Google translate endpoint.
type GoogleTranslator struct {
	endpoint string
	client   *http.Client
}

// NewGoogleTranslator creates a GoogleTranslator.
func NewGoogleTranslator(opts ...GoogleOption) *GoogleTranslator {
	cfg := GoogleOpts{Endpoint: DefaultGoogleEndpoint}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultGoogleTimeout}
	}
	return &GoogleTranslator{endpoint: cfg.Endpoint, client: cfg.HTTPClient}
}

// Translate returns text in the target language, or text itself on any failure.
func (g *GoogleTranslator) Translate(ctx context.Context, text string, target Language) string {
	if isBlank(text) {
		return text
	}
	out, err := g.translate(ctx, text, target)
	if err != nil {
		slog.Warn("GoogleTranslator.Translate: falling back to original text", "target", target, "error", err)
		return text
	}
	return out
}

func (g *GoogleTranslator) translate(ctx context.Context, text string, target Language) (string, error) {
	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", string(target.Source()))
	params.Set("tl", string(target))
	params.Set("dt", "t")
	params.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseGoogleResponse(resp.Body)
}

// parseGoogleResponse joins the translated segments of a response shaped like
// [[["Hello","Привет",...],["world","мир",...]],null,"ru",...].
func parseGoogleResponse(r io.Reader) (string, error) {
	var top []json.RawMessage
	if err := json.NewDecoder(r).Decode(&top); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(top) == 0 {
		return "", fmt.Errorf("empty response")
	}
	var segments [][]any
	if err := json.Unmarshal(top[0], &segments); err != nil {
		return "", fmt.Errorf("unexpected segment layout: %w", err)
	}

	var b strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			b.WriteString(s)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no translated text in response")
	}
	return b.String(), nil
}
