package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"inkwell/api/internal/ai/provider"
	"inkwell/api/internal/ai/stream"
)

const aiFailedMessage = "Failed to process AI request"

var aiValidate = newAIValidator()

func newAIValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fe.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", path))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", path, fe.Param()))
		case "gt":
			messages = append(messages, fmt.Sprintf("%s must be greater than %s", path, fe.Param()))
		case "gte", "lte":
			messages = append(messages, fmt.Sprintf("%s must be between 0 and 1", path))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", path))
		}
	}
	return strings.Join(messages, ", ")
}

func (s *HTTPServer) aiRoutes(r chi.Router) {
	r.Route("/api/ai", func(r chi.Router) {
		if s.aiLimiter != nil {
			r.Use(s.aiLimiter.Middleware(func(r *http.Request) string {
				return sessionFrom(r.Context()).UserID
			}, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "Too many requests"})
			}))
		}
		r.Post("/command", s.handleAICommand)
		r.Post("/copilot", s.handleAICopilot)
	})
}

func writeAIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// writeProviderError writes provider failures as {"error": message}.
func (s *HTTPServer) writeProviderError(w http.ResponseWriter, r *http.Request, err error) {
	var providerErr *provider.Error
	if errors.As(err, &providerErr) {
		if providerErr.Status >= http.StatusInternalServerError {
			s.logger.Error("ai provider failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		}
		writeAIError(w, providerErr.Status, providerErr.Message)
		return
	}
	s.logger.Error("ai request failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
	writeAIError(w, http.StatusInternalServerError, aiFailedMessage)
}

func (s *HTTPServer) pipe(w http.ResponseWriter, r *http.Request, result AIStream) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if err := stream.Pipe(ctx, w, result.Provider, result.Parts); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("ai stream ended with error",
			zap.String("request_id", requestID(r.Context())),
			zap.String("provider", result.Provider),
			zap.Error(err),
		)
	}
}

func (s *HTTPServer) handleAICommand(w http.ResponseWriter, r *http.Request) {
	var input CommandInput
	if err := decodeBody(r, &input); err != nil {
		writeAIError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := aiValidate.Struct(input); err != nil {
		writeAIError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	result, err := s.service.Command(r.Context(), input)
	if err != nil {
		s.writeProviderError(w, r, err)
		return
	}
	s.pipe(w, r, result)
}

func (s *HTTPServer) handleAICopilot(w http.ResponseWriter, r *http.Request) {
	var input CopilotInput
	if err := decodeBody(r, &input); err != nil {
		writeAIError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := aiValidate.Struct(input); err != nil {
		writeAIError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	result, err := s.service.Copilot(r.Context(), input)
	if errors.Is(err, errAIRequestAborted) {
		writeJSON(w, http.StatusRequestTimeout, nil)
		return
	}
	if err != nil {
		s.writeProviderError(w, r, err)
		return
	}
	if result.Stream != nil {
		s.pipe(w, r, *result.Stream)
		return
	}
	writeJSON(w, http.StatusOK, result.Generation)
}
