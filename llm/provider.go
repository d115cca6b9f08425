package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// provider adapts the client to a concrete wire format.
type provider interface {
	buildURL(baseURL string) string
	setHeaders(req *http.Request, apiKey string)
	buildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)
	parseResponse(body []byte) (*Response, error)
}

func getProvider(name string) provider {
	switch name {
	case "openai", "ollama", "openrouter":
		return openAIProvider{}
	case "anthropic":
		return anthropicProvider{}
	default:
		return nil
	}
}

// openAIProvider implements the OpenAI-compatible chat API used by OpenAI,
// Ollama, vLLM, and OpenRouter.
type openAIProvider struct{}

func (openAIProvider) buildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

func (openAIProvider) setHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (openAIProvider) buildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error) {
	req := openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature, // nil = endpoint default
	}
	if maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}
	return json.Marshal(req)
}

func (openAIProvider) parseResponse(body []byte) (*Response, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return &Response{
		Content:    resp.Choices[0].Message.Content,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// anthropicProvider implements the Anthropic messages API.
type anthropicProvider struct{}

const anthropicVersion = "2023-06-01"

func (anthropicProvider) buildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return strings.TrimSuffix(baseURL, "/") + "/v1/messages"
}

func (anthropicProvider) setHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (anthropicProvider) buildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error) {
	// The messages API takes the system prompt as a top-level field.
	var system string
	var rest []Message
	for _, msg := range messages {
		if msg.Role == "system" {
			system = msg.Content
		} else {
			rest = append(rest, msg)
		}
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    rest,
		System:      system,
		Temperature: temperature,
	})
}

func (anthropicProvider) parseResponse(body []byte) (*Response, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return &Response{
		Content:    content,
		Model:      resp.Model,
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}
