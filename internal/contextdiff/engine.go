// Package contextdiff decides how much note text accompanies a chat
// message. The first message after a reset carries every shared note in a
// <Context> block; later messages carry only what was appended since, in a
// <ContextAddon> block, or nothing when the notes are unchanged.
package contextdiff

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"rpoverlay/internal/notes"
)

const sectionSeparator = "\n---\n"

// SystemPromptAppendix tells the model how to read the context blocks.
const SystemPromptAppendix = `

The user's open note tabs are shared with you as context.
- A <Context>...</Context> block contains the full current text of every shared tab. It replaces everything you have seen before. An empty <Context></Context> means no tabs are shared any more.
- A <ContextAddon>...</ContextAddon> block contains only changes since the last context: "[Tab: name] (New tab)" introduces a tab with its full text, "[Tab: name]" followed by text means that text was appended to the end of that tab.
- Each tab section starts with a [Tab: name] header; sections are separated by ---.
Use the notes to answer, but do not repeat them back unless asked.`

// WithAppendix returns prompt with the protocol description appended when
// tab context is enabled.
func WithAppendix(prompt string, enabled bool) string {
	if !enabled {
		return prompt
	}
	return prompt + SystemPromptAppendix
}

// Kind is what an Outgoing message carries.
type Kind int

const (
	// Plain is the user's text alone.
	Plain Kind = iota
	// Full carries a <Context> block.
	Full
	// Incremental carries a <ContextAddon> block.
	Incremental
)

func (k Kind) String() string {
	switch k {
	case Full:
		return "full"
	case Incremental:
		return "incremental"
	default:
		return "plain"
	}
}

// Reason explains why a full context was chosen.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonFirstMessage Reason = "first message"
	ReasonSetChanged   Reason = "shared tabs changed"
	ReasonEdited       Reason = "tab edited"
)

// Pending is the snapshot table a message would establish once delivered.
type Pending struct {
	generation uint64
	snapshots  map[string]string
}

// EditSummary describes the in-place edit that forced a full context.
type EditSummary struct {
	Tab      string
	Inserted int
	Deleted  int
}

// Outgoing is a prepared chat message.
type Outgoing struct {
	Text   string
	Kind   Kind
	Reason Reason
	// Edit is set when Reason is ReasonEdited.
	Edit    *EditSummary
	Pending Pending
}

// Engine holds the per-note text the chat model has already seen. It is
// safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	snapshots  map[string]string
	started    bool
	generation uint64
	dmp        *diffmatchpatch.DiffMatchPatch
	logger     *zap.Logger
}

func New(logger *zap.Logger) *Engine {
	return &Engine{
		snapshots: make(map[string]string),
		dmp:       diffmatchpatch.New(),
		logger:    logger.Named("contextdiff"),
	}
}

// Included filters notes to those shared as context: not excluded and with
// content, ordered by sort order then creation time.
func Included(all []notes.Snapshot) []notes.Snapshot {
	out := make([]notes.Snapshot, 0, len(all))
	for _, n := range all {
		if n.ExcludeFromContext || n.Content == "" {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return notes.Less(out[i].SortOrder, out[i].CreatedAt, out[j].SortOrder, out[j].CreatedAt)
	})
	return out
}

// Prepare builds the message for userText. Nothing changes until the
// returned Pending is passed to Commit.
func (e *Engine) Prepare(userText string, all []notes.Snapshot) Outgoing {
	included := Included(all)
	pending := Pending{snapshots: make(map[string]string, len(included))}
	for _, n := range included {
		pending.snapshots[n.ID] = n.Content
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	pending.generation = e.generation

	if reason, edit := e.resetReason(included); reason != ReasonNone {
		e.logger.Debug("Sending full context", zap.String("reason", string(reason)), zap.Int("tabs", len(included)))
		out := Outgoing{Text: userText, Kind: Plain, Reason: reason, Edit: edit, Pending: pending}
		if len(included) > 0 || len(e.snapshots) > 0 {
			out.Text = userText + "\n\n<Context>" + fullSections(included) + "</Context>"
			out.Kind = Full
		}
		return out
	}

	var sections []string
	for _, n := range included {
		prev, seen := e.snapshots[n.ID]
		switch {
		case !seen:
			sections = append(sections, "[Tab: "+n.Name+"] (New tab)\n"+n.Content)
		case prev == n.Content:
		default:
			added := strings.TrimLeft(n.Content[len(prev):], "\r\n")
			if strings.TrimSpace(added) == "" {
				continue
			}
			sections = append(sections, "[Tab: "+n.Name+"]\n"+added)
		}
	}
	if len(sections) == 0 {
		return Outgoing{Text: userText, Kind: Plain, Pending: pending}
	}
	return Outgoing{
		Text:    userText + "\n\n<ContextAddon>" + strings.Join(sections, sectionSeparator) + "</ContextAddon>",
		Kind:    Incremental,
		Pending: pending,
	}
}

// resetReason must be called with mu held.
func (e *Engine) resetReason(included []notes.Snapshot) (Reason, *EditSummary) {
	if !e.started {
		return ReasonFirstMessage, nil
	}
	if len(included) != len(e.snapshots) {
		return ReasonSetChanged, nil
	}
	for _, n := range included {
		if _, ok := e.snapshots[n.ID]; !ok {
			return ReasonSetChanged, nil
		}
	}
	for _, n := range included {
		prev := e.snapshots[n.ID]
		// Anything but a pure append (cut, rewrite, equal-length
		// replacement) re-sends everything.
		if !strings.HasPrefix(n.Content, prev) {
			return ReasonEdited, e.summarize(n, prev)
		}
	}
	return ReasonNone, nil
}

func (e *Engine) summarize(n notes.Snapshot, prev string) *EditSummary {
	diffs := e.dmp.DiffMain(prev, n.Content, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)
	edit := &EditSummary{Tab: n.Name}
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			edit.Inserted += utf8.RuneCountInString(d.Text)
		case diffmatchpatch.DiffDelete:
			edit.Deleted += utf8.RuneCountInString(d.Text)
		}
	}
	e.logger.Debug("Tab edited in place",
		zap.String("tab", edit.Tab), zap.Int("inserted", edit.Inserted), zap.Int("deleted", edit.Deleted))
	return edit
}

func fullSections(included []notes.Snapshot) string {
	sections := make([]string, len(included))
	for i, n := range included {
		sections[i] = "[Tab: " + n.Name + "]\n" + n.Content
	}
	return strings.Join(sections, sectionSeparator)
}

// Commit records that a prepared message was delivered. A Pending prepared
// before the last Reset is ignored.
func (e *Engine) Commit(p Pending) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.snapshots == nil || p.generation != e.generation {
		return
	}
	e.snapshots = p.snapshots
	e.started = true
}

// Reset forgets everything sent; the next message carries full context.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshots = make(map[string]string)
	e.started = false
	e.generation++
}
