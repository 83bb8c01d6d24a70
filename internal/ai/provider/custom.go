package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"inkwell/api/internal/ai/stream"
)

const customFailureMessage = "Failed to fetch response from custom FastAPI provider."

var eventDelimiter = regexp.MustCompile(`\r?\n\r?\n`)

// Custom streams from an agent service exposing an OpenAI-style SSE
// endpoint at {baseURL}/v1/agents/{model}/runs.
type Custom struct {
	baseURL    string
	httpClient *http.Client
}

func NewCustom(baseURL string, httpClient *http.Client) *Custom {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Custom{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type customRunRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
	System  string `json:"system,omitempty"`
}

type customChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *Custom) Stream(ctx context.Context, req Request) (<-chan stream.Part, error) {
	body, err := json.Marshal(customRunRequest{Message: lastContent(req.Messages), Stream: true, System: req.System})
	if err != nil {
		return nil, failed(err)
	}

	endpoint := fmt.Sprintf("%s/v1/agents/%s/runs", p.baseURL, req.ModelID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, failed(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, failed(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		message := string(text)
		if message == "" {
			message = customFailureMessage
		}
		return nil, &Error{Status: resp.StatusCode, Message: message}
	}

	out := make(chan stream.Part)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		scanner.Split(splitEvents)
		for scanner.Scan() {
			for _, line := range strings.Split(strings.ReplaceAll(scanner.Text(), "\r\n", "\n"), "\n") {
				payload, ok := dataPayload(line)
				if !ok {
					continue
				}
				if payload == "[DONE]" {
					return
				}
				var chunk customChunk
				if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
					continue
				}
				if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
					continue
				}
				if !send(ctx, out, stream.TextPart(*chunk.Choices[0].Delta.Content)) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			send(ctx, out, stream.ErrorPart(err))
		}
	}()
	return out, nil
}

// splitEvents splits an SSE body on blank lines. A trailing event with no
// terminating blank line is dropped.
func splitEvents(data []byte, atEOF bool) (int, []byte, error) {
	if loc := eventDelimiter.FindIndex(data); loc != nil {
		return loc[1], data[:loc[0]], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

func dataPayload(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	if rest, ok := strings.CutPrefix(line, "data: "); ok {
		return rest, true
	}
	return line[len("data:"):], true
}
