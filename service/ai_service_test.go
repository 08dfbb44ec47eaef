package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tieubaoca/paperflow/config"
)

func TestNewAIServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LLMConfig
	}{
		{"openai without key", config.LLMConfig{Provider: "openai"}},
		{"default provider without key", config.LLMConfig{}},
		{"gemini without key", config.LLMConfig{Provider: "gemini"}},
		{"unknown provider", config.LLMConfig{Provider: "bogus", OpenAIAPIKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewAIService(context.Background(), tt.cfg)
			assert.Error(t, err)
			assert.Nil(t, svc)
		})
	}
}

func TestOpenAIServiceComplete(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"summary text"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	svc, err := NewAIService(context.Background(), config.LLMConfig{
		Provider:     "openai",
		BaseURL:      srv.URL,
		Model:        "qwen-plus",
		OpenAIAPIKey: "secret",
	})
	require.NoError(t, err)

	out, err := svc.Complete(context.Background(), "be brief", "paper body")
	require.NoError(t, err)
	assert.Equal(t, "summary text", out)
	assert.Equal(t, "qwen-plus", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "paper body", got.Messages[1].Content)
}

func TestOpenAIServiceNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	svc := NewOpenAIService(srv.URL, "secret", "m")
	_, err := svc.Complete(context.Background(), "", "hi")
	assert.Error(t, err)
}

type fakeGeminiBackend struct {
	key    string
	err    error
	closed bool
}

func (b *fakeGeminiBackend) Generate(ctx context.Context, modelName, systemPrompt, userContent string) (*genai.GenerateContentResponse, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("answer from " + b.key)}},
	}}}, nil
}

func (b *fakeGeminiBackend) Close() error {
	b.closed = true
	return nil
}

func TestGeminiServiceRotatesKeyOnFailure(t *testing.T) {
	var backends []*fakeGeminiBackend
	connect := func(ctx context.Context, key string) (geminiBackend, error) {
		b := &fakeGeminiBackend{key: key}
		if key == "exhausted" {
			b.err = errors.New("quota exceeded")
		}
		backends = append(backends, b)
		return b, nil
	}

	svc, err := newGeminiService(context.Background(), []string{"exhausted", "spare"}, "gemini-pro", connect)
	require.NoError(t, err)

	out, err := svc.Complete(context.Background(), "", "paper")
	require.NoError(t, err)
	assert.Equal(t, "answer from spare", out)
	require.Len(t, backends, 2)
	assert.True(t, backends[0].closed)

	// Later calls stay on the working key.
	_, err = svc.Complete(context.Background(), "", "paper")
	require.NoError(t, err)
	assert.Len(t, backends, 2)
}

func TestGeminiServiceSingleKeyDoesNotRotate(t *testing.T) {
	connects := 0
	connect := func(ctx context.Context, key string) (geminiBackend, error) {
		connects++
		return &fakeGeminiBackend{key: key, err: errors.New("quota exceeded")}, nil
	}
	svc, err := newGeminiService(context.Background(), []string{"only"}, "gemini-pro", connect)
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), "", "paper")
	assert.Error(t, err)
	assert.Equal(t, 1, connects)
}
