// Package translate calls the optional translation collaborator for
// reasoning summaries flagged with _needs_translation. Failures always fall
// back to the original text; translation never blocks the stream.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/relaykit/relay/pkg/event"
	"github.com/relaykit/relay/pkg/httpclient"
)

// Translator converts text to the client's language.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Client is an HTTP translator.
type Client struct {
	url    string
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a translator against a translation endpoint. Returns an
// error when url is empty; callers treat a nil translator as "translation
// disabled".
func NewClient(url string, logger *slog.Logger) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("translation url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url: url,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
			httpclient.WithMaxRetries(1),
			httpclient.WithBaseDelay(200*time.Millisecond),
			httpclient.WithLogger(logger),
		),
		logger: logger,
	}, nil
}

type translateRequest struct {
	Text string `json:"text"`
}

type translateResponse struct {
	Text string `json:"text"`
}

// Translate returns the translated text.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(translateRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal translation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create translation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read translation response: %w", err)
	}

	var out translateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to parse translation response: %w", err)
	}
	if out.Text == "" {
		return "", fmt.Errorf("empty translation")
	}
	return out.Text, nil
}

// Apply translates a reasoning event in place when it is flagged for
// translation. Any failure leaves the event untouched.
func Apply(ctx context.Context, tr Translator, e *event.Event) {
	if tr == nil || e.Type != event.TypeReasoning || !e.NeedsTranslation {
		return
	}

	translated, err := tr.Translate(ctx, e.Content)
	if err != nil {
		slog.Debug("translation failed, keeping original text", "error", err)
		return
	}
	e.Content = translated
	e.NeedsTranslation = false
}
