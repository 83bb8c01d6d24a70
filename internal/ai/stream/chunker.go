package stream

import (
	"regexp"
	"strings"
	"time"
)

// Named chunking patterns.
var chunkingPatterns = map[string]*regexp.Regexp{
	"line": regexp.MustCompile(`\n+`),
	"list": regexp.MustCompile(`.{8}`),
	"word": regexp.MustCompile(`\S+\s+`),
}

var (
	codeFencePattern = regexp.MustCompile("```[^\\s]+")
	listItemPattern  = regexp.MustCompile(`(^|\n)\s*[*+\-]\s+`)
)

// MarkdownChunker picks chunk boundaries that keep markdown constructs
// readable while they stream. It tracks whether the buffer is inside a
// code block, link, list, table or equation and is not safe for
// concurrent use.
type MarkdownChunker struct {
	inCodeBlock bool
	inLink      bool
	inList      bool
	inTable     bool
	inEquation  bool
}

func NewMarkdownChunker() *MarkdownChunker {
	return &MarkdownChunker{}
}

// Chunk implements ChunkDetector.
func (m *MarkdownChunker) Chunk(buffer string) (string, bool) {
	m.update(buffer)

	pattern := chunkingPatterns["word"]
	switch {
	case m.inCodeBlock || m.inTable || m.inLink || m.inEquation:
		pattern = chunkingPatterns["line"]
	case m.inList:
		pattern = chunkingPatterns["list"]
	}

	loc := pattern.FindStringIndex(buffer)
	if loc == nil {
		return "", false
	}
	return buffer[:loc[1]], true
}

// Delay implements a DelayFunc: slower inside code blocks and tables.
func (m *MarkdownChunker) Delay(string) time.Duration {
	if m.inCodeBlock || m.inTable {
		return 100 * time.Millisecond
	}
	return 30 * time.Millisecond
}

func (m *MarkdownChunker) update(buffer string) {
	if codeFencePattern.MatchString(buffer) {
		m.inCodeBlock = true
	} else if m.inCodeBlock && strings.Contains(buffer, "```") {
		m.inCodeBlock = false
	}

	if strings.Contains(buffer, "http") {
		m.inLink = true
	} else if m.inLink && strings.Contains(buffer, "\n") {
		m.inLink = false
	}

	if listItemPattern.MatchString(buffer) {
		m.inList = true
	} else if m.inList && strings.Contains(buffer, "\n") {
		m.inList = false
	}

	if !m.inTable && strings.Contains(buffer, "|") {
		m.inTable = true
	} else if m.inTable && strings.Contains(buffer, "\n\n") {
		m.inTable = false
	}

	if strings.Contains(buffer, "$$") {
		m.inEquation = !m.inEquation
	}
}
