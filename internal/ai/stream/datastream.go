package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"inkwell/api/internal/metrics"
)

// ErrorMessage is sent to clients in place of provider error details.
const ErrorMessage = "An error occurred."

// Data stream frame prefixes.
const (
	frameText        = "0"
	frameError       = "3"
	frameStepFinish  = "e"
	frameMessageMeta = "f"
	frameDone        = "d"
)

type finishPayload struct {
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
	IsContinued  *bool  `json:"isContinued,omitempty"`
}

// NewMessageID returns a message id in the msg-<uuid> form.
func NewMessageID() string {
	return "msg-" + uuid.NewString()
}

// SetHeaders marks the response as a streamed data stream.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Vercel-AI-Data-Stream", "v1")
}

// Pipe writes parts to w as data stream frames until parts closes, an
// error part arrives or ctx is done. It returns the provider error, if
// any, so the caller can log it; the client only sees ErrorMessage.
func Pipe(ctx context.Context, w http.ResponseWriter, provider string, parts <-chan Part) error {
	SetHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := writeFrame(w, frameMessageMeta, map[string]string{"messageId": NewMessageID()}); err != nil {
		metrics.RecordAIStream(provider, "error")
		return err
	}
	flush()

	finished := false
	for {
		var part Part
		var ok bool
		select {
		case part, ok = <-parts:
		case <-ctx.Done():
			metrics.RecordAIStream(provider, "canceled")
			return ctx.Err()
		}
		if !ok {
			break
		}

		switch part.Type {
		case PartText:
			if part.Text == "" {
				continue
			}
			if err := writeFrame(w, frameText, part.Text); err != nil {
				metrics.RecordAIStream(provider, "error")
				return err
			}
			metrics.RecordAIChunk(provider)
		case PartError:
			_ = writeFrame(w, frameError, ErrorMessage)
			flush()
			metrics.RecordAIStream(provider, "error")
			if part.Err == nil {
				return fmt.Errorf("%s stream failed", provider)
			}
			return part.Err
		case PartFinish:
			if err := writeFinish(w, part.FinishReason, part.Usage); err != nil {
				metrics.RecordAIStream(provider, "error")
				return err
			}
			finished = true
		}
		flush()
	}

	if !finished {
		if err := writeFinish(w, "stop", Usage{}); err != nil {
			metrics.RecordAIStream(provider, "error")
			return err
		}
		flush()
	}
	metrics.RecordAIStream(provider, "ok")
	return nil
}

func writeFinish(w io.Writer, reason string, usage Usage) error {
	if reason == "" {
		reason = "unknown"
	}
	continued := false
	if err := writeFrame(w, frameStepFinish, finishPayload{FinishReason: reason, Usage: usage, IsContinued: &continued}); err != nil {
		return err
	}
	return writeFrame(w, frameDone, finishPayload{FinishReason: reason, Usage: usage})
}

func writeFrame(w io.Writer, prefix string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", prefix, err)
	}
	if _, err := fmt.Fprintf(w, "%s:%s\n", prefix, payload); err != nil {
		return fmt.Errorf("write %s frame: %w", prefix, err)
	}
	return nil
}
