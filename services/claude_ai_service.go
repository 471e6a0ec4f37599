package services

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

	"github.com/rs/zerolog/log"

	"github.com/LovationAdmin/memorial-api/models"
)

const (
	defaultClaudeBaseURL = "https://api.anthropic.com"
	defaultClaudeModel   = "claude-3-haiku-20240307"
	claudeMaxRetries     = 2
	claudeBaseBackoff    = 500 * time.Millisecond
)

// ClaudeAIService writes reflections and tributes through the Anthropic
// Messages API.
type ClaudeAIService struct {
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
}

type ClaudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []ClaudeMessage `json:"messages"`
}

type ClaudeMessage struct {
	Role    string               `json:"role"`
	Content []ClaudeContentBlock `json:"content"`
}

// ClaudeContentBlock is either a text block or an image block with a URL source.
type ClaudeContentBlock struct {
	Type   string             `json:"type"`
	Text   string             `json:"text,omitempty"`
	Source *ClaudeImageSource `json:"source,omitempty"`
}

type ClaudeImageSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type ClaudeResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ClaudeOption customises a ClaudeAIService.
type ClaudeOption func(*ClaudeAIService)

// WithClaudeBaseURL points the client at another Messages API host.
func WithClaudeBaseURL(u string) ClaudeOption {
	return func(s *ClaudeAIService) { s.baseURL = strings.TrimRight(u, "/") }
}

func WithClaudeHTTPClient(c *http.Client) ClaudeOption {
	return func(s *ClaudeAIService) { s.httpClient = c }
}

func NewClaudeAIService(apiKey, model string, opts ...ClaudeOption) *ClaudeAIService {
	if model == "" {
		model = defaultClaudeModel
	}
	s := &ClaudeAIService{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultClaudeBaseURL,
		maxTokens:  1024,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reflect writes a short reflection for one photo. The image is passed to
// the model by URL.
func (s *ClaudeAIService) Reflect(ctx context.Context, imageURL, caption string) (string, error) {
	content := []ClaudeContentBlock{}
	if imageURL != "" {
		content = append(content, ClaudeContentBlock{
			Type:   "image",
			Source: &ClaudeImageSource{Type: "url", URL: imageURL},
		})
	}
	content = append(content, ClaudeContentBlock{Type: "text", Text: reflectionPrompt(caption)})

	return s.call(ctx, ClaudeRequest{
		Model:     s.model,
		MaxTokens: 300,
		System:    reflectionSystemPrompt,
		Messages:  []ClaudeMessage{{Role: "user", Content: content}},
	})
}

func (s *ClaudeAIService) Summarize(ctx context.Context, entries []models.MemoryEntry) (string, error) {
	return s.call(ctx, ClaudeRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    summarySystemPrompt,
		Messages: []ClaudeMessage{{
			Role:    "user",
			Content: []ClaudeContentBlock{{Type: "text", Text: summaryPrompt(entries)}},
		}},
	})
}

func (s *ClaudeAIService) call(ctx context.Context, requestBody ClaudeRequest) (string, error) {
	if s.apiKey == "" {
		return "", fmt.Errorf("ANTHROPIC_API_KEY not set: %w", ErrGeneratorUnavailable)
	}

	var lastErr error
	for attempt := 0; attempt <= claudeMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := claudeBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", fmt.Errorf("%v: %w", ctx.Err(), ErrGeneratorUnavailable)
			}
		}

		text, err := s.executeRequest(ctx, requestBody)
		if err == nil {
			return text, nil
		}
		lastErr = err
		var retryable *retryableError
		if !errors.As(err, &retryable) {
			break
		}
	}
	return "", fmt.Errorf("claude: %v: %w", lastErr, ErrGeneratorUnavailable)
}

// retryableError marks transport failures, rate limiting and 5xx responses.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (s *ClaudeAIService) executeRequest(ctx context.Context, requestBody ClaudeRequest) (string, error) {
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", &retryableError{err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", &retryableError{err: apiErr}
		}
		return "", apiErr
	}

	var claudeResp ClaudeResponse
	if err := json.Unmarshal(body, &claudeResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from Claude")
	}

	log.Debug().
		Str("model", claudeResp.Model).
		Int("input_tokens", claudeResp.Usage.InputTokens).
		Int("output_tokens", claudeResp.Usage.OutputTokens).
		Float64("cost_usd", s.EstimateCost(claudeResp.Usage.InputTokens, claudeResp.Usage.OutputTokens)).
		Msg("[Claude AI] completion")

	return strings.TrimSpace(text.String()), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Pricing (approximate for Claude 3 Haiku)
const (
	InputTokenPrice  = 0.00000025
	OutputTokenPrice = 0.00000125
)

func (s *ClaudeAIService) EstimateCost(inputTokens int, outputTokens int) float64 {
	return float64(inputTokens)*InputTokenPrice + float64(outputTokens)*OutputTokenPrice
}
