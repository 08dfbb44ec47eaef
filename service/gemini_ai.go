package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiBackend is one authenticated Gemini client.
type geminiBackend interface {
	Generate(ctx context.Context, modelName, systemPrompt, userContent string) (*genai.GenerateContentResponse, error)
	Close() error
}

type genaiBackend struct {
	client *genai.Client
}

func newGenaiBackend(ctx context.Context, apiKey string) (geminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &genaiBackend{client: client}, nil
}

func (b *genaiBackend) Generate(ctx context.Context, modelName, systemPrompt, userContent string) (*genai.GenerateContentResponse, error) {
	m := b.client.GenerativeModel(modelName)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	return m.GenerateContent(ctx, genai.Text(userContent))
}

func (b *genaiBackend) Close() error {
	return b.client.Close()
}

// GeminiService completes prompts with a Gemini model. Several API keys may
// be given; a failed call rotates to the next key once.
type GeminiService struct {
	apiKeys    []string
	currentKey int
	modelName  string
	connect    func(ctx context.Context, apiKey string) (geminiBackend, error)
	backend    geminiBackend
	mu         sync.Mutex
}

func NewGeminiService(ctx context.Context, apiKeys []string, modelName string) (*GeminiService, error) {
	return newGeminiService(ctx, apiKeys, modelName, newGenaiBackend)
}

func newGeminiService(ctx context.Context, apiKeys []string, modelName string, connect func(context.Context, string) (geminiBackend, error)) (*GeminiService, error) {
	if len(apiKeys) == 0 {
		return nil, errors.New("no API keys provided")
	}
	s := &GeminiService{
		apiKeys:   apiKeys,
		modelName: modelName,
		connect:   connect,
	}
	if err := s.initClient(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GeminiService) initClient(ctx context.Context) error {
	backend, err := s.connect(ctx, s.apiKeys[s.currentKey])
	if err != nil {
		return err
	}
	s.backend = backend
	return nil
}

// rotateAPIKey moves to the next key unless another call already rotated
// away from failed.
func (s *GeminiService) rotateAPIKey(ctx context.Context, failed geminiBackend) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != failed {
		return nil
	}
	s.currentKey = (s.currentKey + 1) % len(s.apiKeys)
	if err := s.backend.Close(); err != nil {
		return err
	}
	return s.initClient(ctx)
}

func (s *GeminiService) current() geminiBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

func (s *GeminiService) Complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	backend := s.current()
	resp, err := backend.Generate(ctx, s.modelName, systemPrompt, userContent)
	if err != nil {
		if len(s.apiKeys) < 2 {
			return "", err
		}
		if err := s.rotateAPIKey(ctx, backend); err != nil {
			return "", err
		}
		resp, err = s.current().Generate(ctx, s.modelName, systemPrompt, userContent)
		if err != nil {
			return "", err
		}
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no response generated")
	}

	var content strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				content.WriteString(string(text))
			}
		}
	}
	return content.String(), nil
}

// Close releases the underlying client.
func (s *GeminiService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}
