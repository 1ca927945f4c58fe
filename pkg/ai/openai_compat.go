package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatGenerator talks to any endpoint implementing the OpenAI
// /v1/chat/completions contract: OpenAI itself, vLLM, LiteLLM,
// OpenRouter, Deepseek, self-hosted gateways.
type OpenAICompatGenerator struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAICompatGenerator builds a chat-completions generator. baseURL
// carries the /v1 prefix (e.g. "https://api.openai.com/v1"); apiKey may
// be empty for unauthenticated local models.
func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	return &OpenAICompatGenerator{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		// Generation can legitimately take minutes on large prompts.
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

// GenerateText implements TextGenerator over chat completions.
func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("openai-compat generation model required")
	}

	var messages []openaiMessage
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: userPrompt})

	header := http.Header{}
	if g.apiKey != "" {
		header.Set("Authorization", "Bearer "+g.apiKey)
	}

	var resp openaiChatResponse
	err := postJSON(ctx, g.client, g.baseURL+"/chat/completions", header,
		openaiChatRequest{Model: g.model, Messages: messages}, &resp,
		"openai-compat", func(body []byte) string {
			var e struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			_ = json.Unmarshal(body, &e)
			return e.Error.Message
		})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	return text, nil
}
