package notes

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// NewNoteName is the prefix of generated tab names.
const NewNoteName = "Ny anteckning"

type tab struct {
	note  Note
	dirty bool
}

// Notebook is the set of open note tabs. Edits mark a tab dirty and Flush
// writes dirty tabs to the Store. A failed write stays dirty and is retried
// by the next Flush.
type Notebook struct {
	mu     sync.Mutex
	store  Store
	tabs   []*tab
	logger *zap.Logger
	now    func() time.Time
}

func NewNotebook(store Store, logger *zap.Logger) *Notebook {
	return &Notebook{store: store, logger: logger.Named("notebook"), now: time.Now}
}

func (b *Notebook) find(id string) *tab {
	for _, t := range b.tabs {
		if t.note.ID == id {
			return t
		}
	}
	return nil
}

// Open loads id into a tab. A note that does not exist yet is created with
// the id as its name, which is how tabs from older settings files resolve.
func (b *Notebook) Open(id string) (Note, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t := b.find(id); t != nil {
		return t.note, nil
	}

	n, err := b.store.Load(id)
	switch {
	case err == nil:
		b.tabs = append(b.tabs, &tab{note: *n})
		return *n, nil
	case errors.Is(err, ErrNotFound):
		created := Note{ID: id, Name: id, CreatedAt: b.now(), SortOrder: b.nextOrder()}
		b.tabs = append(b.tabs, &tab{note: created, dirty: true})
		return created, nil
	default:
		return Note{}, err
	}
}

// OpenAll opens each id, logging the ones that fail.
func (b *Notebook) OpenAll(ids []string) {
	for _, id := range ids {
		if _, err := b.Open(id); err != nil {
			b.logger.Warn("Could not open note", zap.String("id", id), zap.Error(err))
		}
	}
}

// Add creates a new empty tab. An empty name picks the first free
// "Ny anteckning N".
func (b *Notebook) Add(name string) Note {
	b.mu.Lock()
	defer b.mu.Unlock()

	custom := strings.TrimSpace(name) != ""
	if !custom {
		name = b.freeName()
	}
	n := Note{
		ID:            NewID(),
		Name:          name,
		CreatedAt:     b.now(),
		HasCustomName: custom,
		SortOrder:     b.nextOrder(),
	}
	b.tabs = append(b.tabs, &tab{note: n, dirty: true})
	return n
}

func (b *Notebook) freeName() string {
	taken := make(map[string]bool, len(b.tabs))
	for _, t := range b.tabs {
		taken[t.note.Name] = true
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s %d", NewNoteName, i)
		if !taken[name] {
			return name
		}
	}
}

func (b *Notebook) nextOrder() int {
	next := 0
	for _, t := range b.tabs {
		if t.note.SortOrder >= next {
			next = t.note.SortOrder + 1
		}
	}
	return next
}

func (b *Notebook) update(id string, fn func(*Note) bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.find(id)
	if t == nil {
		return false
	}
	if fn(&t.note) {
		t.dirty = true
	}
	return true
}

// SetContent replaces a tab's text.
func (b *Notebook) SetContent(id, content string) bool {
	return b.update(id, func(n *Note) bool {
		if n.Content == content {
			return false
		}
		n.Content = content
		return true
	})
}

// Rename gives a tab a custom name.
func (b *Notebook) Rename(id, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return b.update(id, func(n *Note) bool {
		n.Name = name
		n.HasCustomName = true
		return true
	})
}

// SetExcluded controls whether a tab is shared as chat context.
func (b *Notebook) SetExcluded(id string, excluded bool) bool {
	return b.update(id, func(n *Note) bool {
		if n.ExcludeFromContext == excluded {
			return false
		}
		n.ExcludeFromContext = excluded
		return true
	})
}

// Get returns a copy of an open tab's note.
func (b *Notebook) Get(id string) (Note, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t := b.find(id); t != nil {
		return t.note, true
	}
	return Note{}, false
}

// IDs returns the open tabs in display order.
func (b *Notebook) IDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, len(b.tabs))
	for i, t := range b.tabs {
		ids[i] = t.note.ID
	}
	return ids
}

// Snapshots returns every open tab ordered by sort order, then creation.
func (b *Notebook) Snapshots() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Snapshot, len(b.tabs))
	for i, t := range b.tabs {
		out[i] = t.note.Snapshot()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Less(out[i].SortOrder, out[i].CreatedAt, out[j].SortOrder, out[j].CreatedAt)
	})
	return out
}

// Dirty counts tabs with unsaved changes.
func (b *Notebook) Dirty() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.tabs {
		if t.dirty {
			n++
		}
	}
	return n
}

// Flush saves every dirty tab.
func (b *Notebook) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs error
	for _, t := range b.tabs {
		if !t.dirty {
			continue
		}
		if err := b.store.Save(&t.note); err != nil {
			b.logger.Warn("Saving note failed, will retry", zap.String("id", t.note.ID), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		t.dirty = false
	}
	return errs
}

// Close saves a tab and moves its note to the archive.
func (b *Notebook) Close(id string) error {
	return b.remove(id, b.store.Archive)
}

// Delete closes a tab and removes its note permanently.
func (b *Notebook) Delete(id string) error {
	return b.remove(id, b.store.Delete)
}

func (b *Notebook) remove(id string, finish func(string) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := -1
	for i, t := range b.tabs {
		if t.note.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	t := b.tabs[idx]
	if t.dirty {
		if err := b.store.Save(&t.note); err != nil {
			return err
		}
	}
	if err := finish(id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	b.tabs = append(b.tabs[:idx], b.tabs[idx+1:]...)
	return nil
}
