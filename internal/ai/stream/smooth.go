package stream

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultDelay is the pause after each emitted chunk when no delay option
// is given.
const DefaultDelay = 10 * time.Millisecond

var (
	ErrEmptyChunk     = errors.New("chunking function must return a non-empty string")
	ErrChunkNotPrefix = errors.New("chunking function must return a match that is a prefix of the buffer")
)

// ChunkDetector returns the next chunk to emit from buffer, or false when
// the buffer does not hold a complete chunk yet.
type ChunkDetector func(buffer string) (string, bool)

// DelayFunc computes the pause after a chunk from the remaining buffer.
type DelayFunc func(buffer string) time.Duration

// Smoother re-chunks text deltas so clients receive whole words or lines
// at a steady pace.
type Smoother struct {
	detect ChunkDetector
	custom bool
	delay  DelayFunc
	sleep  func(ctx context.Context, d time.Duration) error
}

type SmootherOption func(*Smoother) error

// WithChunking selects a named pattern: word, line or list.
func WithChunking(name string) SmootherOption {
	return func(s *Smoother) error {
		pattern, ok := chunkingPatterns[name]
		if !ok {
			return fmt.Errorf("chunking must be a regexp, a function or one of word, line, list; got %q", name)
		}
		s.detect = regexpDetector(pattern)
		s.custom = false
		return nil
	}
}

func WithChunkRegexp(pattern *regexp.Regexp) SmootherOption {
	return func(s *Smoother) error {
		if pattern == nil {
			return errors.New("chunking regexp is nil")
		}
		s.detect = regexpDetector(pattern)
		s.custom = false
		return nil
	}
}

// WithChunkDetector installs a custom detector. Its result is validated on
// every call.
func WithChunkDetector(detect ChunkDetector) SmootherOption {
	return func(s *Smoother) error {
		if detect == nil {
			return errors.New("chunk detector is nil")
		}
		s.detect = detect
		s.custom = true
		return nil
	}
}

func WithDelay(d time.Duration) SmootherOption {
	return func(s *Smoother) error {
		s.delay = func(string) time.Duration { return d }
		return nil
	}
}

func WithDelayFunc(fn DelayFunc) SmootherOption {
	return func(s *Smoother) error {
		s.delay = fn
		return nil
	}
}

// WithoutDelay emits chunks back to back.
func WithoutDelay() SmootherOption {
	return func(s *Smoother) error {
		s.delay = nil
		return nil
	}
}

// WithMarkdown uses a fresh MarkdownChunker for both chunking and delay.
func WithMarkdown() SmootherOption {
	return func(s *Smoother) error {
		chunker := NewMarkdownChunker()
		s.detect = chunker.Chunk
		s.custom = true
		s.delay = chunker.Delay
		return nil
	}
}

func NewSmoother(opts ...SmootherOption) (*Smoother, error) {
	s := &Smoother{
		detect: regexpDetector(chunkingPatterns["word"]),
		delay:  func(string) time.Duration { return DefaultDelay },
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Run consumes in until it closes or ctx is done and returns the smoothed
// stream. The returned channel is closed when the goroutine exits; callers
// cancel ctx to release a producer still blocked on in.
func (s *Smoother) Run(ctx context.Context, in <-chan Part) <-chan Part {
	out := make(chan Part)
	go func() {
		defer close(out)
		var buffer strings.Builder

		emit := func(p Part) bool {
			select {
			case out <- p:
				return true
			case <-ctx.Done():
				return false
			}
		}
		flush := func() bool {
			if buffer.Len() == 0 {
				return true
			}
			text := buffer.String()
			buffer.Reset()
			return emit(TextPart(text))
		}

		for {
			var part Part
			var ok bool
			select {
			case part, ok = <-in:
			case <-ctx.Done():
				return
			}
			if !ok {
				flush()
				return
			}

			if part.Type != PartText {
				if !flush() || !emit(part) {
					return
				}
				continue
			}

			buffer.WriteString(part.Text)
			pending := buffer.String()
			for {
				chunk, found := s.detect(pending)
				if !found {
					break
				}
				if err := s.validate(chunk, pending); err != nil {
					emit(ErrorPart(err))
					return
				}
				if !emit(TextPart(chunk)) {
					return
				}
				pending = pending[len(chunk):]
				if s.delay != nil {
					if err := s.sleep(ctx, s.delay(pending)); err != nil {
						return
					}
				}
			}
			buffer.Reset()
			buffer.WriteString(pending)
		}
	}()
	return out
}

func (s *Smoother) validate(chunk, buffer string) error {
	if !s.custom {
		return nil
	}
	if chunk == "" {
		return ErrEmptyChunk
	}
	if !strings.HasPrefix(buffer, chunk) {
		return fmt.Errorf("%w: chunk %q, buffer %q", ErrChunkNotPrefix, chunk, buffer)
	}
	return nil
}

func regexpDetector(pattern *regexp.Regexp) ChunkDetector {
	return func(buffer string) (string, bool) {
		loc := pattern.FindStringIndex(buffer)
		if loc == nil || loc[1] == 0 {
			return "", false
		}
		return buffer[:loc[1]], true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
