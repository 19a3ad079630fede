// Package summarize generates running summaries of transcript windows
// through an OpenAI-compatible chat completions endpoint.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"meeting-scribe/internal/models"
	"meeting-scribe/internal/observability/logging"
)

// ErrAuth reports an authentication failure from the API. The client
// disables itself after seeing one: retrying a bad credential every
// summary window would only generate noise.
var ErrAuth = errors.New("summarize: authentication failed")

// ErrDisabled reports that summarization is switched off, either by
// configuration (no API key) or after an authentication failure.
var ErrDisabled = errors.New("summarize: disabled")

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultModel    = "gpt-4o-mini"
	maxAttempts     = 3
)

var retryDelay = 2 * time.Second

const systemPrompt = `You are a meeting assistant. You receive a fragment of a meeting transcript with speaker labels. Correct obvious transcription mistakes, then summarize the fragment. Output each discussion point on its own line prefixed with "point:" and each action item on its own line prefixed with "action item:". If the fragment contains nothing of substance, output the single word "none".`

// Client calls a chat completions API to summarize transcript windows.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
	disabled atomic.Bool
	log      zerolog.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// New builds a client. An empty API key yields a permanently disabled
// client; callers can still construct the pipeline without credentials.
func New(apiKey, endpoint, model string) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if model == "" {
		model = defaultModel
	}
	c := &Client{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 60 * time.Second},
		log:      logging.WithComponent("summarize"),
	}
	if apiKey == "" {
		c.disabled.Store(true)
	}
	return c
}

// Enabled reports whether the client will attempt API calls.
func (c *Client) Enabled() bool {
	return !c.disabled.Load()
}

// Summarize condenses the given entries into a Summary. Entries must be
// non-empty and in timestamp order; displayName resolves speaker ids to
// the names frozen into the summary text.
func (c *Client) Summarize(ctx context.Context, entries []models.TranscriptEntry, displayName func(string) string) (models.Summary, error) {
	if c.disabled.Load() {
		return models.Summary{}, ErrDisabled
	}
	if len(entries) == 0 {
		return models.Summary{}, errors.New("summarize: no entries")
	}

	var sb strings.Builder
	for _, e := range entries {
		if e.Failed || e.Text == "" {
			continue
		}
		name := displayName(e.SpeakerID)
		if name == "" {
			name = "Unknown"
		}
		fmt.Fprintf(&sb, "%s: %s\n", name, e.Text)
	}
	if sb.Len() == 0 {
		return models.Summary{}, errors.New("summarize: no usable text")
	}

	content, err := c.complete(ctx, sb.String())
	if err != nil {
		return models.Summary{}, err
	}

	points, actions := parseResponse(content)
	return models.Summary{
		RangeStart:  entries[0].Timestamp,
		RangeEnd:    entries[len(entries)-1].Timestamp,
		Text:        strings.Join(points, "\n"),
		ActionItems: actions,
		CreatedAt:   time.Now(),
	}, nil
}

func (c *Client) complete(ctx context.Context, transcript string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcript},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		content, err := c.once(ctx, body)
		if err == nil {
			return content, nil
		}
		if errors.Is(err, ErrAuth) {
			c.disabled.Store(true)
			c.log.Warn().Msg("authentication failed, summarization disabled for this session")
			return "", err
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("completion request failed")
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) once(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post completion: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("empty choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseResponse splits the model output into discussion points and
// action items. A bare "none" response means the window held nothing of
// substance and both lists come back empty.
func parseResponse(content string) (points, actions []string) {
	trimmed := strings.TrimSpace(content)
	if strings.EqualFold(trimmed, "none") {
		return nil, nil
	}
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "point:"):
			if p := strings.TrimSpace(line[len("point:"):]); p != "" {
				points = append(points, p)
			}
		case strings.HasPrefix(lower, "action item:"):
			if a := strings.TrimSpace(line[len("action item:"):]); a != "" {
				actions = append(actions, a)
			}
		case line != "":
			// Models occasionally drop the prefix on continuation
			// lines. Treat unprefixed text as a discussion point.
			points = append(points, line)
		}
	}
	return points, actions
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
