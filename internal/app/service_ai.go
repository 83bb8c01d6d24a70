package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"inkwell/api/internal/ai/provider"
	"inkwell/api/internal/ai/stream"
)

const (
	defaultCommandModel  = "openai:gpt-4o"
	defaultCopilotModel  = "gpt-4o-mini"
	defaultCopilotTokens = 50
	defaultTemperature   = 0.7
)

// errAIRequestAborted marks a copilot request the client gave up on.
var errAIRequestAborted = errors.New("ai request aborted")

type CommandInput struct {
	APIKey   string             `json:"apiKey"`
	Messages []provider.Message `json:"messages" validate:"required,dive"`
	Model    string             `json:"model"`
	System   string             `json:"system"`
}

type CopilotInput struct {
	APIKey      string   `json:"apiKey"`
	Prompt      *string  `json:"prompt" validate:"required"`
	Model       string   `json:"model"`
	System      string   `json:"system"`
	MaxTokens   *int     `json:"maxTokens" validate:"omitnil,gt=0"`
	Temperature *float64 `json:"temperature" validate:"omitnil,gte=0,lte=1"`
}

// AIStream is an open generation stream from a named provider.
type AIStream struct {
	Provider string
	Parts    <-chan stream.Part
}

// CopilotResult holds either a completed generation or a stream.
type CopilotResult struct {
	Generation *provider.Generation
	Stream     *AIStream
}

func (s *Service) aiProvider(name string) (provider.Provider, error) {
	p, ok := s.providers.Get(name)
	if !ok {
		return nil, &provider.Error{Status: http.StatusBadRequest, Message: fmt.Sprintf("Unsupported AI provider: %s", name)}
	}
	return p, nil
}

// Command streams an editor command from the provider named in the model
// string.
func (s *Service) Command(ctx context.Context, input CommandInput) (AIStream, error) {
	name, modelID := provider.ParseModel(firstNonBlank(input.Model, defaultCommandModel))
	p, err := s.aiProvider(name)
	if err != nil {
		return AIStream{}, err
	}
	parts, err := p.Stream(ctx, provider.Request{
		APIKey:   input.APIKey,
		ModelID:  modelID,
		Messages: input.Messages,
		System:   input.System,
	})
	if err != nil {
		return AIStream{}, err
	}
	return AIStream{Provider: name, Parts: parts}, nil
}

// Copilot completes a short continuation. OpenAI models return a finished
// generation; other providers stream with the prompt as the only user
// message. An OpenAI key is required either way.
func (s *Service) Copilot(ctx context.Context, input CopilotInput) (CopilotResult, error) {
	openai, _ := s.providers.Get(provider.OpenAIName)
	completion, ok := openai.(completer)
	if !ok || !completion.HasKey(input.APIKey) {
		return CopilotResult{}, &provider.Error{Status: http.StatusUnauthorized, Message: "Missing OpenAI API key."}
	}

	name, modelID := provider.ParseModel(firstNonBlank(input.Model, defaultCopilotModel))
	prompt := deref(input.Prompt)
	if name != provider.OpenAIName {
		p, err := s.aiProvider(name)
		if err != nil {
			return CopilotResult{}, err
		}
		parts, err := p.Stream(ctx, provider.Request{
			APIKey:   input.APIKey,
			ModelID:  modelID,
			Messages: []provider.Message{{Role: provider.RoleUser, Content: prompt}},
			System:   input.System,
		})
		if err != nil {
			return CopilotResult{}, err
		}
		return CopilotResult{Stream: &AIStream{Provider: name, Parts: parts}}, nil
	}

	maxTokens := defaultCopilotTokens
	if input.MaxTokens != nil {
		maxTokens = *input.MaxTokens
	}
	temperature := defaultTemperature
	if input.Temperature != nil {
		temperature = *input.Temperature
	}
	gen, err := completion.Complete(ctx, provider.CompletionRequest{
		APIKey:      input.APIKey,
		ModelID:     modelID,
		Prompt:      prompt,
		System:      input.System,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CopilotResult{}, errAIRequestAborted
	}
	if err != nil {
		s.logger.Warn("copilot completion failed", zap.String("model", modelID), zap.Error(err))
		return CopilotResult{}, err
	}
	return CopilotResult{Generation: &gen}, nil
}
