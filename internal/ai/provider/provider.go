// Package provider adapts AI vendors to a common streaming interface.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"inkwell/api/internal/ai/stream"
)

const (
	OpenAIName = "openai"
	GoogleName = "google"
	CustomName = "custom"

	// MaxTokens caps streamed generations.
	MaxTokens = 2048

	failedRequestMessage = "Failed to process AI request"
)

// Message roles accepted from clients.
const (
	RoleSystem    = "system"
	RoleData      = "data"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role" validate:"required,oneof=system data user assistant"`
	Content string `json:"content"`
}

// Request is one streaming generation.
type Request struct {
	APIKey   string
	ModelID  string
	Messages []Message
	System   string
}

// Provider streams a generation. Errors returned before the stream starts
// are *Error values carrying the HTTP status to report.
type Provider interface {
	Stream(ctx context.Context, req Request) (<-chan stream.Part, error)
}

// Error is a provider failure that maps directly onto an HTTP response
// body of the form {"error": Message}.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func missingKey(name string) *Error {
	return &Error{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Missing %s API key.", name)}
}

func failed(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: failedRequestMessage, Err: err}
}

// ParseModel splits "provider:model". A bare model id belongs to openai.
func ParseModel(value string) (string, string) {
	name, model, ok := strings.Cut(value, ":")
	if !ok {
		return OpenAIName, value
	}
	return name, model
}

// Config holds provider credentials and endpoints.
type Config struct {
	OpenAIKey     string
	OpenAIBaseURL string
	GoogleKey     string
	GoogleBaseURL string
	CustomURL     string
	HTTPClient    *http.Client
}

// Registry maps provider names to implementations.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{providers: map[string]Provider{
		OpenAIName: NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.HTTPClient),
		GoogleName: NewGoogle(cfg.GoogleKey, cfg.GoogleBaseURL, cfg.HTTPClient),
		CustomName: NewCustom(cfg.CustomURL, cfg.HTTPClient),
	}}
}

// NewRegistryWith builds a registry from explicit providers.
func NewRegistryWith(providers map[string]Provider) *Registry {
	return &Registry{providers: providers}
}

func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lastContent returns the content of the final message, or "".
func lastContent(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}

// send delivers p unless ctx is done first.
func send(ctx context.Context, out chan<- stream.Part, p stream.Part) bool {
	select {
	case out <- p:
		return true
	case <-ctx.Done():
		return false
	}
}

// smooth runs raw through a markdown-aware smoother.
func smooth(ctx context.Context, raw <-chan stream.Part) (<-chan stream.Part, error) {
	smoother, err := stream.NewSmoother(stream.WithMarkdown())
	if err != nil {
		return nil, err
	}
	return smoother.Run(ctx, raw), nil
}
