package provider

import (
	"context"
	"errors"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"inkwell/api/internal/ai/stream"
)

// OpenAI streams chat completions through the OpenAI API or any
// compatible endpoint.
type OpenAI struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAI(apiKey, baseURL string, httpClient *http.Client) *OpenAI {
	return &OpenAI{apiKey: apiKey, baseURL: baseURL, httpClient: httpClient}
}

// HasKey reports whether a request key or the configured key is present.
func (p *OpenAI) HasKey(requestKey string) bool {
	return p.resolveKey(requestKey) != ""
}

func (p *OpenAI) resolveKey(requestKey string) string {
	if requestKey != "" {
		return requestKey
	}
	return p.apiKey
}

func (p *OpenAI) client(key string) *openai.Client {
	cfg := openai.DefaultConfig(key)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	if p.httpClient != nil {
		cfg.HTTPClient = p.httpClient
	}
	return openai.NewClientWithConfig(cfg)
}

func (p *OpenAI) Stream(ctx context.Context, req Request) (<-chan stream.Part, error) {
	key := p.resolveKey(req.APIKey)
	if key == "" {
		return nil, missingKey(OpenAIName)
	}

	chat, err := p.client(key).CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         req.ModelID,
		Messages:      chatMessages(req.System, req.Messages),
		MaxTokens:     MaxTokens,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, failed(err)
	}

	raw := make(chan stream.Part)
	go func() {
		defer close(raw)
		defer chat.Close()

		var reason string
		var usage stream.Usage
		for {
			resp, err := chat.Recv()
			if errors.Is(err, io.EOF) {
				send(ctx, raw, stream.FinishPart(reason, usage))
				return
			}
			if err != nil {
				send(ctx, raw, stream.ErrorPart(err))
				return
			}
			if resp.Usage != nil {
				usage = stream.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.FinishReason != "" {
				reason = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" && !send(ctx, raw, stream.TextPart(choice.Delta.Content)) {
				return
			}
		}
	}()
	return smooth(ctx, raw)
}

// CompletionRequest is a single-shot, non-streaming generation.
type CompletionRequest struct {
	APIKey      string
	ModelID     string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float32
}

// Generation is the JSON result of a completion.
type Generation struct {
	Text         string       `json:"text"`
	FinishReason string       `json:"finishReason"`
	Usage        stream.Usage `json:"usage"`
}

// Complete runs a non-streaming chat completion with the prompt as the
// only user message. Context errors are returned unwrapped so callers can
// detect client aborts.
func (p *OpenAI) Complete(ctx context.Context, req CompletionRequest) (Generation, error) {
	key := p.resolveKey(req.APIKey)
	if key == "" {
		return Generation{}, &Error{Status: http.StatusUnauthorized, Message: "Missing OpenAI API key."}
	}

	resp, err := p.client(key).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.ModelID,
		Messages:    chatMessages(req.System, []Message{{Role: RoleUser, Content: req.Prompt}}),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Generation{}, ctxErr
		}
		return Generation{}, failed(err)
	}

	gen := Generation{
		FinishReason: "unknown",
		Usage:        stream.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens},
	}
	if len(resp.Choices) > 0 {
		gen.Text = resp.Choices[0].Message.Content
		if resp.Choices[0].FinishReason != "" {
			gen.FinishReason = string(resp.Choices[0].FinishReason)
		}
	}
	return gen, nil
}

func chatMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case RoleAssistant:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content})
		case RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
		// data messages carry client annotations and are not sent upstream.
	}
	return out
}
