package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"rpoverlay/internal/contextdiff"
	"rpoverlay/internal/notes"
)

// Texts shown in the chat panel.
const (
	GreetingText   = "Hej! Hur kan jag hjälpa dig idag?"
	MissingKeyText = "⚠️ OpenAI API-nyckel saknas. Lägg till den i inställningar för att börja chatta."
	CancelledText  = "[Meddelande avbrutet]"
	ErrorPrefix    = "❌ Fel: "
)

// Reply is the outcome of one Send.
type Reply struct {
	Text      string
	Err       error
	Cancelled bool
	Kind      contextdiff.Kind
}

// Bubble returns the text the chat panel shows for the reply.
func (r Reply) Bubble() string {
	switch {
	case r.Cancelled:
		return CancelledText
	case r.Err != nil:
		return ErrorPrefix + r.Err.Error()
	default:
		return r.Text
	}
}

// Conversation runs at most one chat turn at a time. Starting a new turn
// cancels the previous one; closing cancels and suppresses its completion.
type Conversation struct {
	mu             sync.Mutex
	service        Service
	engine         *contextdiff.Engine
	snapshots      func() []notes.Snapshot
	contextEnabled bool
	cancel         context.CancelFunc
	// last is closed when the most recently started turn has finished.
	last           chan struct{}
	running        *sync.WaitGroup
	closed         bool
	logger         *zap.Logger
}

// NewConversation sends through service. snapshots supplies the open notes
// when tab context is enabled.
func NewConversation(service Service, engine *contextdiff.Engine, snapshots func() []notes.Snapshot, logger *zap.Logger) *Conversation {
	return &Conversation{
		service:   service,
		engine:    engine,
		snapshots: snapshots,
		running:   &sync.WaitGroup{},
		logger:    logger.Named("conversation"),
	}
}

// Configure applies the API key, system prompt and tab context flag. The
// context protocol restarts with the next message.
func (c *Conversation) Configure(apiKey, systemPrompt string, tabContext bool) {
	c.mu.Lock()
	c.contextEnabled = tabContext
	c.cancelLocked()
	c.mu.Unlock()

	c.service.Configure(apiKey, contextdiff.WithAppendix(systemPrompt, tabContext))
	c.engine.Reset()
}

// Greeting is the first bubble shown when the panel opens.
func (c *Conversation) Greeting() string {
	if c.service.Configured() {
		return GreetingText
	}
	return MissingKeyText
}

// Reset starts a new chat session.
func (c *Conversation) Reset() {
	c.mu.Lock()
	c.cancelLocked()
	c.mu.Unlock()
	c.service.ClearHistory()
	c.engine.Reset()
}

// Send starts a turn for text. onChunk receives reply fragments and done
// the final outcome; both run on the turn's goroutine. It returns false
// when text is blank or the conversation is closed.
func (c *Conversation) Send(text string, onChunk func(string), done func(Reply)) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.cancelLocked()
	withContext := c.contextEnabled && c.snapshots != nil

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	prev, finished := c.last, make(chan struct{})
	c.last = finished
	c.running.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.running.Done()
		defer close(finished)
		defer cancel()

		// The superseded turn settles, and commits its context if the service
		// kept it, before this one diffs against the engine.
		if prev != nil {
			<-prev
		}

		out := contextdiff.Outgoing{Text: text}
		if withContext {
			out = c.engine.Prepare(text, c.snapshots())
		}
		c.logger.Debug("Sending chat message", zap.Stringer("kind", out.Kind), zap.String("reason", string(out.Reason)))
		if out.Edit != nil {
			c.logger.Info("Tab edited since last message, resending full context",
				zap.String("tab", out.Edit.Tab),
				zap.Int("inserted", out.Edit.Inserted),
				zap.Int("deleted", out.Edit.Deleted),
			)
		}

		var reply strings.Builder
		result := Reply{Kind: out.Kind}
		for chunk, err := range c.service.Stream(ctx, out.Text) {
			if err != nil {
				result.Err = err
				break
			}
			reply.WriteString(chunk)
			if onChunk != nil && !c.isClosed() {
				onChunk(chunk)
			}
		}
		result.Text = reply.String()
		// Only the stream decides whether the turn was kept.
		result.Cancelled = errors.Is(result.Err, context.Canceled)

		if result.Err == nil && !result.Cancelled {
			c.engine.Commit(out.Pending)
		}
		if result.Err != nil && !result.Cancelled {
			c.logger.Warn("Chat turn failed", zap.Error(result.Err))
		}

		if c.isClosed() {
			return
		}
		if done != nil {
			done(result)
		}
	}()
	return true
}

// Cancel aborts the turn in flight, if any.
func (c *Conversation) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

func (c *Conversation) cancelLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Conversation) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close cancels the turn in flight and waits for it to finish. Its done
// callback is not called. Later Sends are refused.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.closed = true
	c.cancelLocked()
	c.mu.Unlock()
	c.running.Wait()
}
