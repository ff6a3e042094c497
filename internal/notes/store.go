package notes

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound  = errors.New("note not found")
	ErrInvalidID = errors.New("invalid note id")
)

// ArchiveDirName is the subdirectory archived notes are moved to.
const ArchiveDirName = "Archive"

const (
	noteExt       = ".yml"
	legacyExt     = ".txt"
	archiveSuffix = "20060102_150405"
)

// Store is the durable home of notes.
type Store interface {
	Load(id string) (*Note, error)
	Save(n *Note) error
	// List returns note ids ordered by sort order, then creation time.
	List() ([]string, error)
	Archive(id string) error
	Delete(id string) error
}

// NewID returns a fresh note id.
func NewID() string {
	return uuid.NewString()
}

// FileStore keeps one YAML file per note.
type FileStore struct {
	dir        string
	archiveDir string
	logger     *zap.Logger
	now        func() time.Time
}

// NewFileStore opens dir, creating it and its archive directory.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	archive := filepath.Join(dir, ArchiveDirName)
	if err := os.MkdirAll(archive, 0o755); err != nil {
		return nil, errors.Wrap(err, "create notes directory failed")
	}
	return &FileStore{
		dir:        dir,
		archiveDir: archive,
		logger:     logger.Named("notes"),
		now:        time.Now,
	}, nil
}

func (s *FileStore) Dir() string        { return s.dir }
func (s *FileStore) ArchiveDir() string { return s.archiveDir }

type document struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	CreatedDate        string `yaml:"created_date"`
	LastModifiedDate   string `yaml:"last_modified_date"`
	HasCustomName      bool   `yaml:"has_custom_name"`
	ExcludeFromContext bool   `yaml:"exclude_from_context"`
	SortOrder          int    `yaml:"sort_order"`
	Content            string `yaml:"content"`
}

func (s *FileStore) path(id string) (string, error) {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, `/\:`) || id == "." || id == ".." {
		return "", errors.Wrapf(ErrInvalidID, "%q", id)
	}
	return filepath.Join(s.dir, id+noteExt), nil
}

// Load reads a note. A missing file is ErrNotFound.
func (s *FileStore) Load(id string) (*Note, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	return s.read(p)
}

func (s *FileStore) read(p string) (*Note, error) {
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read note failed")
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse note %s failed", filepath.Base(p))
	}

	n := &Note{
		ID:                 doc.ID,
		Name:               doc.Name,
		Content:            doc.Content,
		CreatedAt:          parseDate(doc.CreatedDate),
		ModifiedAt:         parseDate(doc.LastModifiedDate),
		HasCustomName:      doc.HasCustomName,
		ExcludeFromContext: doc.ExcludeFromContext,
		SortOrder:          doc.SortOrder,
	}
	if n.ID == "" {
		n.ID = strings.TrimSuffix(filepath.Base(p), noteExt)
	}
	if n.Name == "" {
		n.Name = n.ID
	}
	return n, nil
}

func parseDate(v string) time.Time {
	if t, err := time.ParseInLocation(DateLayout, v, time.Local); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	return time.Time{}
}

// Save writes n and stamps its ModifiedAt.
func (s *FileStore) Save(n *Note) error {
	p, err := s.path(n.ID)
	if err != nil {
		return err
	}
	n.ModifiedAt = s.now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = n.ModifiedAt
	}

	body, err := yaml.Marshal(document{
		ID:                 n.ID,
		Name:               n.Name,
		CreatedDate:        n.CreatedAt.Format(DateLayout),
		LastModifiedDate:   n.ModifiedAt.Format(DateLayout),
		HasCustomName:      n.HasCustomName,
		ExcludeFromContext: n.ExcludeFromContext,
		SortOrder:          n.SortOrder,
		Content:            n.Content,
	})
	if err != nil {
		return errors.Wrap(err, "marshal note failed")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# RPOverlay Note\n# Last Modified: %s\n\n", n.ModifiedAt.Format(DateLayout))
	buf.Write(body)

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "write note failed")
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "replace note failed")
	}
	return nil
}

// List returns the ids of all readable notes. Unreadable files are logged
// and skipped.
func (s *FileStore) List() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*"+noteExt))
	if err != nil {
		return nil, errors.Wrap(err, "list notes failed")
	}

	loaded := make([]*Note, 0, len(files))
	for _, f := range files {
		n, err := s.read(f)
		if err != nil {
			s.logger.Warn("Skipping unreadable note", zap.String("file", f), zap.Error(err))
			continue
		}
		loaded = append(loaded, n)
	}
	sort.SliceStable(loaded, func(i, j int) bool {
		return Less(loaded[i].SortOrder, loaded[i].CreatedAt, loaded[j].SortOrder, loaded[j].CreatedAt)
	})

	ids := make([]string, len(loaded))
	for i, n := range loaded {
		ids[i] = n.ID
	}
	return ids, nil
}

// Archive moves a note into the archive directory. An archived note with
// the same id gets a timestamp suffix instead of being replaced.
func (s *FileStore) Archive(id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return ErrNotFound
	}

	dst := filepath.Join(s.archiveDir, id+noteExt)
	if _, err := os.Stat(dst); err == nil {
		dst = filepath.Join(s.archiveDir, id+"_"+s.now().Format(archiveSuffix)+noteExt)
	}
	if err := os.Rename(p, dst); err != nil {
		return errors.Wrapf(err, "archive note %s failed", id)
	}
	s.logger.Info("Archived note", zap.String("id", id), zap.String("path", dst))
	return nil
}

// Delete removes a note permanently.
func (s *FileStore) Delete(id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "delete note %s failed", id)
	}
	return nil
}

// MigrateLegacy converts plain-text notes from older versions into YAML
// notes named after the file. A .txt whose .yml already exists is left
// alone. It returns the number of notes migrated.
func (s *FileStore) MigrateLegacy() (int, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*"+legacyExt))
	if err != nil {
		return 0, errors.Wrap(err, "list legacy notes failed")
	}

	migrated := 0
	for _, f := range files {
		id := strings.TrimSuffix(filepath.Base(f), legacyExt)
		p, err := s.path(id)
		if err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			s.logger.Debug("Skipping legacy note, yml exists", zap.String("id", id))
			continue
		}

		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		content, err := os.ReadFile(f)
		if err != nil {
			s.logger.Warn("Could not read legacy note", zap.String("file", f), zap.Error(err))
			continue
		}

		n := &Note{
			ID:        id,
			Name:      id,
			Content:   string(content),
			CreatedAt: info.ModTime(),
		}
		if err := s.Save(n); err != nil {
			s.logger.Warn("Could not migrate legacy note", zap.String("id", id), zap.Error(err))
			continue
		}
		migrated++
		if err := os.Remove(f); err != nil {
			s.logger.Warn("Could not delete legacy note", zap.String("file", f), zap.Error(err))
		}
	}
	if migrated > 0 {
		s.logger.Info("Migrated legacy notes", zap.Int("count", migrated))
	}
	return migrated, nil
}
