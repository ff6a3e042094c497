// Package notes persists the overlay's note tabs and tracks their
// in-memory state.
package notes

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DateLayout is how note timestamps are written to disk.
const DateLayout = "2006-01-02 15:04:05"

// Note is a note record as stored on disk.
type Note struct {
	ID                 string
	Name               string
	Content            string
	CreatedAt          time.Time
	ModifiedAt         time.Time
	HasCustomName      bool
	ExcludeFromContext bool
	SortOrder          int
}

const maxDerivedName = 30

// DisplayName is the tab title. Without a custom name it is the first
// non-blank line of the content, shortened.
func (n *Note) DisplayName() string {
	if n.HasCustomName {
		return n.Name
	}
	for _, line := range strings.Split(n.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxDerivedName {
			line = string([]rune(line)[:maxDerivedName]) + "…"
		}
		return line
	}
	return n.Name
}

// Snapshot is the view of an open note that chat context is built from.
type Snapshot struct {
	ID                 string
	Name               string
	Content            string
	ExcludeFromContext bool
	SortOrder          int
	CreatedAt          time.Time
}

func (n *Note) Snapshot() Snapshot {
	return Snapshot{
		ID:                 n.ID,
		Name:               n.DisplayName(),
		Content:            n.Content,
		ExcludeFromContext: n.ExcludeFromContext,
		SortOrder:          n.SortOrder,
		CreatedAt:          n.CreatedAt,
	}
}

// Less orders notes by sort order, then creation time.
func Less(aOrder int, aCreated time.Time, bOrder int, bCreated time.Time) bool {
	if aOrder != bOrder {
		return aOrder < bOrder
	}
	return aCreated.Before(bCreated)
}
