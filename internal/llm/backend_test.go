package llm

import (
	"context"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/calmchat/internal/apperr"
	"github.com/comigor/calmchat/internal/config"
	"github.com/comigor/calmchat/internal/history"
	"github.com/comigor/calmchat/internal/window"
)

type mockLLM struct {
	resp     openai.ChatCompletionResponse
	err      error
	requests []openai.ChatCompletionRequest
}

func (m *mockLLM) CreateChatCompletion(_ context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.requests = append(m.requests, r)
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return m.resp, nil
}

func reply(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text},
	}}}
}

func TestGenerate_SendsWindowInOrder(t *testing.T) {
	mock := &mockLLM{resp: reply("Hi")}
	b := NewBackend(mock, config.LLMConfig{Model: "gpt", MaxTokens: 1000, Temperature: 0.7})

	out, err := b.Generate(context.Background(), []window.Entry{
		{Role: history.RoleUser, Content: "one"},
		{Role: history.RoleAssistant, Content: "two"},
		{Role: history.RoleUser, Content: "Hello"},
	})
	require.NoError(t, err)
	require.Equal(t, "Hi", out)

	require.Len(t, mock.requests, 1)
	req := mock.requests[0]
	require.Equal(t, "gpt", req.Model)
	require.Equal(t, 1000, req.MaxTokens)
	require.InDelta(t, 0.7, req.Temperature, 1e-6)
	require.Equal(t, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "one"},
		{Role: openai.ChatMessageRoleAssistant, Content: "two"},
		{Role: openai.ChatMessageRoleUser, Content: "Hello"},
	}, req.Messages)
}

func TestGenerate_SystemPrompt(t *testing.T) {
	mock := &mockLLM{resp: reply("ok")}
	b := NewBackend(mock, config.LLMConfig{Model: "gpt", SystemPrompt: "Be calm."})

	_, err := b.Generate(context.Background(), []window.Entry{{Role: history.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	msgs := mock.requests[0].Messages
	require.Len(t, msgs, 2)
	require.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	require.Equal(t, "Be calm.", msgs[0].Content)
}

func TestGenerate_LLMError(t *testing.T) {
	b := NewBackend(&mockLLM{err: context.DeadlineExceeded}, config.LLMConfig{Model: "gpt"})
	_, err := b.Generate(context.Background(), []window.Entry{{Role: history.RoleUser, Content: "hi"}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, apperr.BackendFailure, apperr.KindOf(err))
}

func TestGenerate_NoChoices(t *testing.T) {
	b := NewBackend(&mockLLM{}, config.LLMConfig{Model: "gpt"})
	_, err := b.Generate(context.Background(), []window.Entry{{Role: history.RoleUser, Content: "hi"}})
	require.ErrorIs(t, err, errNoChoices)
	require.Equal(t, apperr.BackendFailure, apperr.KindOf(err))
}

func TestNewClient(t *testing.T) {
	c := NewClient(config.LLMConfig{APIKey: "k", BaseURL: "http://localhost:1/v1"})
	require.NotNil(t, c)
	var _ Client = c
}
