package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/copilotkit-support/AI-shopping-assistant/internal/domain"
)

const maxResponseBytes = 8 << 20

// Client calls an OpenAI-compatible chat completions endpoint in JSON mode
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewClient creates a new chat completions client
func NewClient(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		rateLimiter: rate.NewLimiter(rate.Limit(5), 5),
		logger:      logger.Named("openai"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

// CompleteJSON sends a system and user message and returns the model's JSON text
func (c *Client) CompleteJSON(ctx context.Context, systemInstruction, userPrompt string) (string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrLLMFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", domain.ErrLLMFailure, err)
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && parsed.Error != nil {
			if isContextLengthError(parsed.Error) {
				return "", fmt.Errorf("%w: %s", domain.ErrContextLengthExceeded, parsed.Error.Message)
			}
			return "", fmt.Errorf("%w: status %d: %s", domain.ErrLLMFailure, resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("%w: status %d", domain.ErrLLMFailure, resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", domain.ErrLLMFailure, decodeErr)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrLLMFailure, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no completion returned", domain.ErrLLMFailure)
	}
	if parsed.Choices[0].FinishReason == "length" {
		return "", fmt.Errorf("%w: completion truncated at token limit", domain.ErrLLMFailure)
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	c.logger.Debug("completion",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(userPrompt)),
		zap.Int("response_len", len(content)),
		zap.Duration("elapsed", time.Since(start)))
	return content, nil
}

// isContextLengthError reports whether the API rejected the prompt as too long
func isContextLengthError(e *apiError) bool {
	if e.Code == "context_length_exceeded" {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "context_length") ||
		strings.Contains(msg, "context length") ||
		strings.Contains(msg, "maximum context")
}
