package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/monateaches/assessment/internal/llm/prompts"
	"github.com/monateaches/assessment/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// maxCommentaryRunes bounds what is embedded into the results email.
const maxCommentaryRunes = 1200

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client. An empty variant means encouraging.
func New(baseURL, apiKey, modelName string, variant prompts.PromptVariant) (*Client, error) {
	if variant == "" {
		variant = prompts.PromptEncouraging
	}
	if !prompts.IsValidVariant(string(variant)) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	if err := prompts.Load(nil); err != nil {
		return nil, err
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
	}, nil
}

type commentaryResponse struct {
	Commentary string `json:"commentary"`
}

// Commentary asks the model for a short parent-facing paragraph about res.
func (c *Client) Commentary(ctx context.Context, res model.AssessmentResult) (string, error) {
	prompt, err := prompts.BuildCommentaryPrompt(c.variant, res)
	if err != nil {
		return "", fmt.Errorf("build commentary prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.5,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM commentary response", "raw", raw)

	var out commentaryResponse
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	return cleanCommentary(out.Commentary)
}

func cleanCommentary(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", errors.New("LLM returned empty commentary")
	}
	if r := []rune(s); len(r) > maxCommentaryRunes {
		s = string(r[:maxCommentaryRunes]) + "..."
	}
	return s, nil
}
