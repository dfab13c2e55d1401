package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/llm/anthropic"
)

type messagesRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
	StopSequences []string `json:"stop_sequences"`
}

const okResponse = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-test",
	"content": [{"type": "text", "text": "Task 1: "}, {"type": "text", "text": "research"}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 10, "output_tokens": 3}
}`

func newClient(t *testing.T, handler http.HandlerFunc) *anthropic.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := anthropic.NewClient(&anthropic.Config{
		APIKey:  "test-key",
		Model:   "claude-test",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)
	return client
}

func TestComplete(t *testing.T) {
	var got messagesRequest
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okResponse))
	})

	out, err := client.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a planner."},
		{Role: llm.RoleUser, Content: "plan it"},
		{Role: llm.RoleAssistant, Content: "which task?"},
		{Role: llm.RoleUser, Content: "the report"},
	}, llm.WithMaxTokens(200), llm.WithStop("END"))
	require.NoError(t, err)
	assert.Equal(t, "Task 1: research", out)

	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, 200, got.MaxTokens)
	require.Len(t, got.System, 1)
	assert.Equal(t, "You are a planner.", got.System[0].Text)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "the report", got.Messages[2].Content[0].Text)
	assert.Equal(t, []string{"END"}, got.StopSequences)
}

func TestComplete_APIError(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`))
	})

	_, err := client.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	assert.Error(t, err)
}

func TestComplete_NoText(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_02","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":0}}`))
	})

	_, err := client.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	assert.Error(t, err)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := anthropic.NewClient(&anthropic.Config{})
	assert.Error(t, err)
}
