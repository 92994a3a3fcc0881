package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/calmchat/internal/apperr"
	"github.com/comigor/calmchat/internal/config"
	"github.com/comigor/calmchat/internal/history"
	"github.com/comigor/calmchat/internal/logger"
	"github.com/comigor/calmchat/internal/window"
)

var errNoChoices = errors.New("completion returned no choices")

// Backend turns a bounded window into one generated reply.
type Backend struct {
	client Client
	cfg    config.LLMConfig
}

func NewBackend(client Client, cfg config.LLMConfig) *Backend {
	return &Backend{client: client, cfg: cfg}
}

// Generate sends entries, in order, and returns the text of the first choice.
func (b *Backend) Generate(ctx context.Context, entries []window.Entry) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(entries)+1)
	if b.cfg.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: b.cfg.SystemPrompt,
		})
	}
	for _, e := range entries {
		messages = append(messages, openai.ChatCompletionMessage{Role: chatRole(e.Role), Content: e.Content})
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.cfg.Model,
		Messages:    messages,
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: b.cfg.Temperature,
	})
	if err != nil {
		logger.L.Error("LLM call failed", "error", err)
		return "", apperr.New(apperr.BackendFailure, "generate reply", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.BackendFailure, "generate reply", errNoChoices)
	}
	logger.L.Debug("LLM response received",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

func chatRole(role string) string {
	if role == history.RoleAssistant {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}
