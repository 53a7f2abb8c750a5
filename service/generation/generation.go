package generation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"llmtoolbox/clients/ollama"
	"llmtoolbox/service/connection"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrEmptyPrompt  = errors.New("please enter a prompt before generating")
	ErrNotConnected = errors.New("please establish a connection to Ollama first")
)

const DefaultSystemPrompt = "You are a helpful AI assistant."

type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Validate rejects a prompt that must not reach the server.
func (p Prompt) Validate() error {
	if strings.TrimSpace(p.User) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// StreamError is a failed generation, along with how the reconnect it triggered went.
// Reconnect is nil when the reconnect succeeded.
type StreamError struct {
	Err       error
	Reconnect error
}

func (e *StreamError) Error() string {
	if e.Reconnect != nil {
		return fmt.Sprintf("an error occurred while generating: %v (reconnect failed: %v)", e.Err, e.Reconnect)
	}
	return fmt.Sprintf("an error occurred while generating: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

type Streamer struct {
	manager *connection.Manager
	timeout time.Duration
}

type Option func(*Streamer)

// WithTimeout bounds a whole generation. Zero, the default, means no bound beyond the caller's context.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Streamer) {
		s.timeout = timeout
	}
}

func NewStreamer(manager *connection.Manager, opts ...Option) *Streamer {
	ret := &Streamer{manager: manager}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Stream generates a response for prompt. Each yielded string is the whole text so far,
// never only the delta. The sequence is lazy: nothing is sent until the first pull.
// It ends after the server's last chunk, or after one yielded error.
//
// On a failed generation the manager reconnects once before the *StreamError is yielded,
// so the next request has a chance; the failed generation is never retried.
// A prompt failing Validate, or a manager not Connected, yields an error without any request.
func (s *Streamer) Stream(ctx context.Context, prompt Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := prompt.Validate(); err != nil {
			yield("", err)
			return
		}
		client, config, ok := s.manager.Client()
		if !ok {
			yield("", ErrNotConnected)
			return
		}

		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		err := s.generate(ctx, client, config, prompt, yield)
		if err == nil || errors.Is(err, errStopped) {
			return
		}
		slog.Error("generate", "host", config.Host, "model", config.Model, "err", err)
		// the caller may have gone away, the reconnect is for whoever comes next
		reconnectErr := s.manager.Reconnect(context.WithoutCancel(ctx))
		yield("", &StreamError{Err: err, Reconnect: reconnectErr})
	}
}

var errStopped = errors.New("consumer stopped")

func (s *Streamer) generate(
	ctx context.Context,
	client *ollama.Client,
	config connection.Config,
	prompt Prompt,
	yield func(string, error) bool,
) error {
	stream, err := client.Generate(ctx, ollama.GenerateRequest{
		Model:  config.Model,
		Prompt: prompt.User,
		System: prompt.System,
		Stream: true,
	})
	if err != nil {
		return err
	}
	defer ollama.CloseAndWarnIfFail(stream)

	var full strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Response == nil {
			continue
		}
		full.WriteString(*chunk.Response)
		if *chunk.Response == "" {
			// nothing new to show, typically the final chunk
			continue
		}
		if !yield(full.String(), nil) {
			return errStopped
		}
	}
	return stream.Err()
}

// Collect drains seq and returns the final text, or the first error.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var last string
	for text, err := range seq {
		if err != nil {
			return "", err
		}
		last = text
	}
	return last, nil
}
