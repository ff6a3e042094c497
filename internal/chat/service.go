// Package chat talks to the chat model and keeps the conversation the
// overlay's chat panel shows.
package chat

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned by Stream until an API key is configured.
var ErrNotConfigured = errors.New("chat is not configured: add an OpenAI API key in settings")

// Role of a message in the conversation history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	Role    Role
	Content string
}

// Service is a stateful chat session.
type Service interface {
	// Configure sets the API key and system prompt and clears the history.
	// An empty key unconfigures the service.
	Configure(apiKey, systemPrompt string)
	// Stream sends text as the next user turn and yields the reply as it
	// arrives. A failed or abandoned turn is removed from the history.
	Stream(ctx context.Context, text string) iter.Seq2[string, error]
	// ClearHistory forgets every turn except the system prompt.
	ClearHistory()
	Configured() bool
}

// Backend streams a completion for a full message history.
type Backend interface {
	Complete(ctx context.Context, apiKey string, history []Message) iter.Seq2[string, error]
}

// HistoryService implements Service on top of a Backend.
type HistoryService struct {
	mu      sync.Mutex
	backend Backend
	apiKey  string
	history []Message
	// gen changes whenever the history is reset, so a turn finishing
	// afterwards does not write into the new history.
	gen    uint64
	logger *zap.Logger
}

// NewService returns an unconfigured service using backend.
func NewService(backend Backend, logger *zap.Logger) *HistoryService {
	return &HistoryService{backend: backend, logger: logger.Named("chat")}
}

// NewOpenAIService returns a service backed by the OpenAI API.
func NewOpenAIService(logger *zap.Logger) *HistoryService {
	return NewService(NewOpenAIBackend(), logger)
}

func (s *HistoryService) Configure(apiKey, systemPrompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(apiKey)
	s.history = nil
	s.gen++
	if s.apiKey != "" && strings.TrimSpace(systemPrompt) != "" {
		s.history = append(s.history, Message{Role: RoleSystem, Content: systemPrompt})
	}
	s.logger.Info("Chat configured", zap.Bool("configured", s.apiKey != ""), zap.Bool("system_prompt", len(s.history) > 0))
}

func (s *HistoryService) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey != ""
}

func (s *HistoryService) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) > 0 && s.history[0].Role == RoleSystem {
		s.history = s.history[:1]
	} else {
		s.history = nil
	}
	s.gen++
}

// History returns a copy of the conversation so far.
func (s *HistoryService) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

func (s *HistoryService) Stream(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		text = strings.TrimSpace(text)

		s.mu.Lock()
		if s.apiKey == "" {
			s.mu.Unlock()
			yield("", ErrNotConfigured)
			return
		}
		if text == "" {
			s.mu.Unlock()
			return
		}
		s.history = append(s.history, Message{Role: RoleUser, Content: text})
		history := slices.Clone(s.history)
		key, gen := s.apiKey, s.gen
		s.mu.Unlock()

		var (
			reply   strings.Builder
			failed  error
			stopped bool
		)
		for chunk, err := range s.backend.Complete(ctx, key, history) {
			if err != nil {
				failed = err
				break
			}
			reply.WriteString(chunk)
			if !yield(chunk, nil) {
				stopped = true
				break
			}
		}
		if failed == nil && !stopped && ctx.Err() != nil {
			failed = ctx.Err()
		}

		s.finish(gen, reply.String(), failed != nil || stopped)

		if failed != nil && !stopped {
			if ctx.Err() != nil {
				yield("", ctx.Err())
			} else {
				s.logger.Warn("Chat completion failed", zap.Error(failed))
				yield("", errors.Wrap(failed, "chat completion failed"))
			}
		}
	}
}

// finish records the outcome of the turn started in generation gen.
func (s *HistoryService) finish(gen uint64, reply string, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	if dropped {
		if n := len(s.history); n > 0 && s.history[n-1].Role == RoleUser {
			s.history = s.history[:n-1]
		}
		return
	}
	if reply != "" {
		s.history = append(s.history, Message{Role: RoleAssistant, Content: reply})
	}
}
