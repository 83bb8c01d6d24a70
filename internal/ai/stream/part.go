// Package stream turns provider token deltas into the data stream frames
// the editor consumes.
package stream

// PartType identifies the kind of a stream Part.
type PartType string

const (
	PartText   PartType = "text-delta"
	PartError  PartType = "error"
	PartFinish PartType = "finish"
)

// Usage reports token counts for a finished generation.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Part is one event of a provider stream.
type Part struct {
	Type         PartType
	Text         string
	Err          error
	FinishReason string
	Usage        Usage
}

func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func ErrorPart(err error) Part {
	return Part{Type: PartError, Err: err}
}

func FinishPart(reason string, usage Usage) Part {
	return Part{Type: PartFinish, FinishReason: reason, Usage: usage}
}
