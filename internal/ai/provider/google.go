package provider

import (
	"context"
	"net/http"

	"google.golang.org/genai"

	"inkwell/api/internal/ai/stream"
)

// Google streams Gemini generations.
type Google struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewGoogle(apiKey, baseURL string, httpClient *http.Client) *Google {
	return &Google{apiKey: apiKey, baseURL: baseURL, httpClient: httpClient}
}

func (p *Google) Stream(ctx context.Context, req Request) (<-chan stream.Part, error) {
	key := req.APIKey
	if key == "" {
		key = p.apiKey
	}
	if key == "" {
		return nil, missingKey(GoogleName)
	}

	cfg := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	if p.httpClient != nil {
		cfg.HTTPClient = p.httpClient
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, failed(err)
	}

	config := &genai.GenerateContentConfig{MaxOutputTokens: MaxTokens}
	system := req.System
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Content
		}
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	raw := make(chan stream.Part)
	go func() {
		defer close(raw)
		var reason string
		var usage stream.Usage
		for resp, err := range client.Models.GenerateContentStream(ctx, req.ModelID, contents, config) {
			if err != nil {
				send(ctx, raw, stream.ErrorPart(err))
				return
			}
			if resp.UsageMetadata != nil {
				usage = stream.Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}
			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
				reason = finishReason(resp.Candidates[0].FinishReason)
			}
			if text := resp.Text(); text != "" && !send(ctx, raw, stream.TextPart(text)) {
				return
			}
		}
		send(ctx, raw, stream.FinishPart(reason, usage))
	}()
	return smooth(ctx, raw)
}

func finishReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return "content-filter"
	default:
		return "other"
	}
}
