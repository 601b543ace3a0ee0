// Package coach предоставляет клиент языковой модели для подсказок по целям.
package coach

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

	"github.com/hashicorp/go-cleanhttp"
)

const (
	systemPrompt = "You are a goal-setting coach."
	temperature  = 0.7
	maxTokens    = 200
)

var (
	// ErrNotConfigured возвращается, если ключ API не задан.
	ErrNotConfigured = errors.New("coach client not configured")
	// ErrEmptyPrompt возвращается для пустого запроса.
	ErrEmptyPrompt = errors.New("prompt required")
)

// Client инкапсулирует HTTP-взаимодействие с OpenAI-совместимым API чата.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient создаёт клиент. Таймаут ограничивает весь запрос, включая чтение ответа.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Suggest отправляет запрос пользователя модели и возвращает её ответ.
func (c *Client) Suggest(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.baseURL == "" || c.apiKey == "" {
		return "", ErrNotConfigured
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("unexpected status: %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", errors.New("empty completion")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}
