package contextdiff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rpoverlay/internal/notes"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func note(id, name, content string, order int) notes.Snapshot {
	return notes.Snapshot{ID: id, Name: name, Content: content, SortOrder: order, CreatedAt: epoch}
}

// send prepares and commits, as a delivered message would.
func send(e *Engine, text string, all ...notes.Snapshot) Outgoing {
	out := e.Prepare(text, all)
	e.Commit(out.Pending)
	return out
}

func TestFirstSendScenario(t *testing.T) {
	e := New(zap.NewNop())
	secrets := note("s", "Secrets", "z", 2)
	secrets.ExcludeFromContext = true

	out := send(e, "hej", note("n", "Notes", "x", 0), note("l", "Log", "y", 1), secrets)
	assert.Equal(t, Full, out.Kind)
	assert.Equal(t, ReasonFirstMessage, out.Reason)
	assert.Equal(t, "hej\n\n<Context>[Tab: Notes]\nx\n---\n[Tab: Log]\ny</Context>", out.Text)
	assert.NotContains(t, out.Text, "Secrets")
}

func TestAppendSendsOnlySuffix(t *testing.T) {
	e := New(zap.NewNop())
	send(e, "1", note("a", "A", "hello", 0))

	out := send(e, "2", note("a", "A", "hello world", 0))
	assert.Equal(t, Incremental, out.Kind)
	assert.Equal(t, "2\n\n<ContextAddon>[Tab: A]\n world</ContextAddon>", out.Text)
}

func TestAppendTrimsLeadingNewline(t *testing.T) {
	e := New(zap.NewNop())
	send(e, "1", note("a", "A", "line1", 0))

	out := send(e, "2", note("a", "A", "line1\nline2", 0))
	assert.Equal(t, "2\n\n<ContextAddon>[Tab: A]\nline2</ContextAddon>", out.Text)
}

func TestShrinkTriggersReset(t *testing.T) {
	e := New(zap.NewNop())
	send(e, "1", note("a", "A", "hello world", 0))

	out := send(e, "2", note("a", "A", "hi", 0))
	assert.Equal(t, Full, out.Kind)
	assert.Equal(t, ReasonEdited, out.Reason)
	assert.Equal(t, "2\n\n<Context>[Tab: A]\nhi</Context>", out.Text)
}

func TestEqualLengthRewriteTriggersReset(t *testing.T) {
	e := New(zap.NewNop())
	send(e, "1", note("a", "A", "first paragraph", 0))

	out := send(e, "2", note("a", "A", "other paragraph and more", 0))
	assert.Equal(t, Full, out.Kind)
	assert.Equal(t, ReasonEdited, out.Reason)
	assert.Contains(t, out.Text, "other paragraph and more")
}

func TestExclusionToggleForcesReset(t *testing.T) {
	e := New(zap.NewNop())
	a := note("a", "A", "alpha", 0)
	b := note("b", "B", "beta", 1)
	send(e, "1", a, b)

	b.ExcludeFromContext = true
	out := send(e, "2", a, b)
	assert.Equal(t, Full, out.Kind)
	assert.Equal(t, ReasonSetChanged, out.Reason)
	assert.Equal(t, "2\n\n<Context>[Tab: A]\nalpha</Context>", out.Text)

	b.ExcludeFromContext = false
	out = send(e, "3", a, b)
	assert.Equal(t, Full, out.Kind)
	assert.Equal(t, ReasonSetChanged, out.Reason)
}

func TestUnchangedSendsPlainText(t *testing.T) {
	e := New(zap.NewNop())
	send(e, "1", note("a", "A", "alpha", 0))

	out := send(e, "just chatting", note("a", "A", "alpha", 0))
	assert.Equal(t, Plain, out.Kind)
	assert.Equal(t, "just chatting", out.Text)
}

func TestWhitespaceAppendSkippedButAdvanced(t *testing.T) {
	e := New(zap.NewNop())
	send(e, "1", note("a", "A", "alpha", 0))

	out := send(e, "2", note("a", "A", "alpha\n\n  ", 0))
	assert.Equal(t, Plain, out.Kind)

	out = send(e, "3", note("a", "A", "alpha\n\n  beta", 0))
	assert.Equal(t, "3\n\n<ContextAddon>[Tab: A]\nbeta</ContextAddon>", out.Text)
}

func TestAllRemovedSendsEmptyContext(t *testing.T) {
	e := New(zap.NewNop())
	send(e, "1", note("a", "A", "alpha", 0))

	out := send(e, "2", note("a", "A", "", 0))
	assert.Equal(t, Full, out.Kind)
	assert.Equal(t, "2\n\n<Context></Context>", out.Text)

	out = send(e, "3", note("a", "A", "", 0))
	assert.Equal(t, Plain, out.Kind)
	assert.Equal(t, "3", out.Text)
}

func TestNoNotesFirstMessageIsPlain(t *testing.T) {
	e := New(zap.NewNop())
	out := send(e, "hello")
	assert.Equal(t, Plain, out.Kind)
	assert.Equal(t, "hello", out.Text)
}

func TestUncommittedSendDoesNotAdvance(t *testing.T) {
	e := New(zap.NewNop())
	send(e, "1", note("a", "A", "hello", 0))

	failed := e.Prepare("2", []notes.Snapshot{note("a", "A", "hello world", 0)})
	require.Equal(t, Incremental, failed.Kind)

	retry := send(e, "2", note("a", "A", "hello world!", 0))
	assert.Equal(t, "2\n\n<ContextAddon>[Tab: A]\n world!</ContextAddon>", retry.Text)
}

func TestFailedFirstSendStaysFull(t *testing.T) {
	e := New(zap.NewNop())
	e.Prepare("1", []notes.Snapshot{note("a", "A", "x", 0)})

	out := e.Prepare("1", []notes.Snapshot{note("a", "A", "x", 0)})
	assert.Equal(t, Full, out.Kind)
}

func TestResetDiscardsInFlightCommit(t *testing.T) {
	e := New(zap.NewNop())
	out := e.Prepare("1", []notes.Snapshot{note("a", "A", "x", 0)})
	e.Reset()
	e.Commit(out.Pending)

	again := e.Prepare("2", []notes.Snapshot{note("a", "A", "x", 0)})
	assert.Equal(t, Full, again.Kind)
	assert.Equal(t, ReasonFirstMessage, again.Reason)
}

func TestResetAfterSession(t *testing.T) {
	e := New(zap.NewNop())
	send(e, "1", note("a", "A", "x", 0))
	e.Reset()

	out := send(e, "2", note("a", "A", "x", 0))
	assert.Equal(t, Full, out.Kind)
}

func TestOrderingBySortOrderThenCreation(t *testing.T) {
	later := note("b", "Later", "2", 0)
	later.CreatedAt = epoch.Add(time.Hour)
	earlier := note("a", "Earlier", "1", 0)
	last := note("c", "Last", "3", 5)

	got := Included([]notes.Snapshot{last, later, earlier})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"Earlier", "Later", "Last"}, []string{got[0].Name, got[1].Name, got[2].Name})
}

func TestWithAppendix(t *testing.T) {
	assert.Equal(t, "prompt", WithAppendix("prompt", false))
	with := WithAppendix("prompt", true)
	assert.Contains(t, with, "<Context>")
	assert.Contains(t, with, "<ContextAddon>")
}

func TestEditSummaryCountsChangedRunes(t *testing.T) {
	e := New(zap.NewExample())
	send(e, "1", note("a", "A", "hello world", 0), note("b", "Bår", "Namn: Sven\nYrke: polis", 1))

	out := send(e, "2", note("a", "A", "hello there world", 0), note("b", "Bår", "Namn: Sven\nYrke: polis", 1))
	assert.Equal(t, ReasonEdited, out.Reason)
	require.NotNil(t, out.Edit)
	assert.Equal(t, EditSummary{Tab: "A", Inserted: 6}, *out.Edit)

	out = send(e, "3", note("a", "A", "hello there world", 0), note("b", "Bår", "Namn: Sven", 1))
	require.NotNil(t, out.Edit)
	assert.Equal(t, EditSummary{Tab: "Bår", Deleted: 12}, *out.Edit)
}

func TestEditSummaryOnlyForEdits(t *testing.T) {
	e := New(zap.NewNop())
	out := send(e, "1", note("a", "A", "x", 0))
	assert.Nil(t, out.Edit)
	out = send(e, "2", note("a", "A", "xy", 0))
	assert.Nil(t, out.Edit)
	out = send(e, "3", note("a", "A", "xy", 0), note("b", "B", "z", 1))
	assert.Equal(t, ReasonSetChanged, out.Reason)
	assert.Nil(t, out.Edit)
}
