package chat

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend replays chunks and records every history it was sent. Calls
// for which hold returns true wait for cancellation after the chunks.
type fakeBackend struct {
	mu     sync.Mutex
	calls  [][]Message
	chunks []string
	err    error
	hold   func(call int) bool
}

func (f *fakeBackend) Complete(ctx context.Context, apiKey string, history []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f.mu.Lock()
		f.calls = append(f.calls, slices.Clone(history))
		call := len(f.calls)
		chunks, err, hold := f.chunks, f.err, f.hold
		f.mu.Unlock()

		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
		if hold != nil && hold(call) {
			<-ctx.Done()
			yield("", ctx.Err())
			return
		}
		if err != nil {
			yield("", err)
		}
	}
}

func (f *fakeBackend) sent() [][]Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

func TestStreamRequiresConfiguration(t *testing.T) {
	s := NewService(&fakeBackend{}, zap.NewNop())
	assert.False(t, s.Configured())

	_, err := collect(s.Stream(context.Background(), "hej"))
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestStreamKeepsHistory(t *testing.T) {
	backend := &fakeBackend{chunks: []string{"Hej", " där"}}
	s := NewService(backend, zap.NewNop())
	s.Configure("sk-1", "Du är en hjälpsam assistent.")

	text, err := collect(s.Stream(context.Background(), "  hej  "))
	require.NoError(t, err)
	assert.Equal(t, "Hej där", text)

	assert.Equal(t, []Message{
		{Role: RoleSystem, Content: "Du är en hjälpsam assistent."},
		{Role: RoleUser, Content: "hej"},
		{Role: RoleAssistant, Content: "Hej där"},
	}, s.History())

	_, err = collect(s.Stream(context.Background(), "igen"))
	require.NoError(t, err)
	calls := backend.sent()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1], 4)
	assert.Equal(t, RoleSystem, calls[1][0].Role)
}

func TestStreamBlankTextSendsNothing(t *testing.T) {
	backend := &fakeBackend{}
	s := NewService(backend, zap.NewNop())
	s.Configure("sk-1", "")

	text, err := collect(s.Stream(context.Background(), "   "))
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Empty(t, backend.sent())
}

func TestStreamFailureDropsUserTurn(t *testing.T) {
	boom := errors.New("rate limited")
	s := NewService(&fakeBackend{chunks: []string{"par"}, err: boom}, zap.NewNop())
	s.Configure("sk-1", "sys")

	_, err := collect(s.Stream(context.Background(), "hej"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, []Message{{Role: RoleSystem, Content: "sys"}}, s.History())
}

func TestStreamAbandonedDropsUserTurn(t *testing.T) {
	s := NewService(&fakeBackend{chunks: []string{"a", "b", "c"}}, zap.NewNop())
	s.Configure("sk-1", "")

	for chunk, err := range s.Stream(context.Background(), "hej") {
		require.NoError(t, err)
		assert.Equal(t, "a", chunk)
		break
	}
	assert.Empty(t, s.History())
}

func TestStreamCancelledReportsContextError(t *testing.T) {
	s := NewService(&fakeBackend{hold: func(int) bool { return true }}, zap.NewNop())
	s.Configure("sk-1", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := collect(s.Stream(ctx, "hej"))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, s.History())
}

func TestClearHistoryKeepsSystemPrompt(t *testing.T) {
	s := NewService(&fakeBackend{chunks: []string{"ok"}}, zap.NewNop())
	s.Configure("sk-1", "sys")
	_, err := collect(s.Stream(context.Background(), "hej"))
	require.NoError(t, err)

	s.ClearHistory()
	assert.Equal(t, []Message{{Role: RoleSystem, Content: "sys"}}, s.History())

	s.Configure("", "sys")
	assert.False(t, s.Configured())
	assert.Empty(t, s.History())
}

func TestOpenAIBackendStreams(t *testing.T) {
	bodies := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		bodies <- string(raw)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hej", " då"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o-mini\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	backend := NewOpenAIBackend(option.WithBaseURL(srv.URL+"/v1/"), option.WithMaxRetries(0))
	text, err := collect(backend.Complete(context.Background(), "sk-test", []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hej"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "Hej då", text)
	assert.Contains(t, <-bodies, "gpt-4o-mini")
}
