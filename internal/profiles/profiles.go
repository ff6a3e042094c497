// Package profiles keeps per-character profiles. Each profile owns a
// directory holding its presets, notes, prompts and settings.
package profiles

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultID   = "default"
	DefaultName = "Standard"

	ProfilesDirName = "Profiles"
	MetadataFile    = "profiles.json"
	AppSettingsFile = "app-settings.json"
	NotesDirName    = "notes"
	PresetsFileName = "presets.json"
	PromptsDirName  = "prompts"
)

var (
	ErrNotFound  = errors.New("profile not found")
	ErrProtected = errors.New("the default profile cannot be deleted")
	ErrEmptyName = errors.New("profile name cannot be empty")
)

// Profile is one entry in profiles.json.
type Profile struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
	LastUsed time.Time `json:"last_used"`
}

type appSettings struct {
	LastUsedProfile string `json:"last_used_profile"`
}

// Service manages profiles below root/Profiles.
type Service struct {
	mu     sync.Mutex
	root   string
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// New opens the profile tree under root, migrating a pre-profile layout and
// creating the default profile when needed.
func New(root string, logger *zap.Logger) (*Service, error) {
	s := &Service{
		root:   root,
		dir:    filepath.Join(root, ProfilesDirName),
		logger: logger.Named("profiles"),
		now:    time.Now,
	}
	s.migrate()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create profiles dir failed")
	}
	if err := s.EnsureDefault(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the data directory the profile tree lives in.
func (s *Service) Root() string { return s.root }

// Dir returns a profile's directory.
func (s *Service) Dir(id string) string { return filepath.Join(s.dir, id) }

// NotesDir returns a profile's note directory.
func (s *Service) NotesDir(id string) string { return filepath.Join(s.Dir(id), NotesDirName) }

// PresetsPath returns a profile's preset file.
func (s *Service) PresetsPath(id string) string { return filepath.Join(s.Dir(id), PresetsFileName) }

// PromptsDir returns a profile's prompt directory.
func (s *Service) PromptsDir(id string) string { return filepath.Join(s.Dir(id), PromptsDirName) }

// EnsureDefault creates the default profile when profiles.json holds none.
func (s *Service) EnsureDefault() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.load()
	if len(list) > 0 {
		return nil
	}
	now := s.now()
	list = append(list, Profile{ID: DefaultID, Name: DefaultName, Created: now, LastUsed: now})
	if err := s.save(list); err != nil {
		return err
	}
	return s.createDir(DefaultID)
}

// List returns every profile in file order.
func (s *Service) List() []Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get looks a profile up by id, ignoring case.
func (s *Service) Get(id string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.load()
	if i := indexOf(list, id); i >= 0 {
		return list[i], true
	}
	return Profile{}, false
}

// Create adds a profile whose id is derived from name. Colliding ids get a
// _N suffix.
func (s *Service) Create(name string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.load()
	base := Slug(name)
	id := base
	for n := 1; indexOf(list, id) >= 0; n++ {
		id = base + "_" + strconv.Itoa(n)
	}

	now := s.now()
	p := Profile{ID: id, Name: name, Created: now, LastUsed: now}
	list = append(list, p)
	if err := s.save(list); err != nil {
		return Profile{}, err
	}
	if err := s.createDir(id); err != nil {
		return Profile{}, err
	}
	s.logger.Info("Created profile", zap.String("id", id), zap.String("name", name))
	return p, nil
}

// Rename changes a profile's display name.
func (s *Service) Rename(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	return s.modify(id, func(p *Profile) {
		p.Name = name
		p.LastUsed = s.now()
	})
}

// Touch records that a profile was used.
func (s *Service) Touch(id string) error {
	return s.modify(id, func(p *Profile) { p.LastUsed = s.now() })
}

func (s *Service) modify(id string, fn func(*Profile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.load()
	i := indexOf(list, id)
	if i < 0 {
		return ErrNotFound
	}
	fn(&list[i])
	return s.save(list)
}

// Delete removes a profile and its directory. The default profile is
// protected.
func (s *Service) Delete(id string) error {
	if strings.EqualFold(id, DefaultID) {
		return ErrProtected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.load()
	i := indexOf(list, id)
	if i < 0 {
		return ErrNotFound
	}
	dir := s.Dir(list[i].ID)
	list = append(list[:i], list[i+1:]...)
	if err := s.save(list); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("Failed to delete profile directory", zap.String("dir", dir), zap.Error(err))
	}
	return nil
}

// Active returns the last used profile, or the default one when the
// recorded profile no longer exists.
func (s *Service) Active() string {
	data, err := os.ReadFile(filepath.Join(s.root, AppSettingsFile))
	if err != nil {
		return DefaultID
	}
	var as appSettings
	if err := json.Unmarshal(data, &as); err != nil {
		s.logger.Warn("Ignoring unreadable app settings", zap.Error(err))
		return DefaultID
	}
	if p, ok := s.Get(as.LastUsedProfile); ok {
		return p.ID
	}
	return DefaultID
}

// SetActive makes id the last used profile.
func (s *Service) SetActive(id string) error {
	p, ok := s.Get(id)
	if !ok {
		return ErrNotFound
	}
	data, err := json.MarshalIndent(appSettings{LastUsedProfile: p.ID}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal app settings failed")
	}
	if err := os.WriteFile(filepath.Join(s.root, AppSettingsFile), data, 0o644); err != nil {
		return errors.Wrap(err, "write app settings failed")
	}
	return s.Touch(p.ID)
}

// load must be called with mu held. An unreadable file yields no profiles.
func (s *Service) load() []Profile {
	data, err := os.ReadFile(filepath.Join(s.dir, MetadataFile))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read profiles", zap.Error(err))
		}
		return nil
	}
	var list []Profile
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Warn("Failed to parse profiles", zap.Error(err))
		return nil
	}
	return list
}

// save must be called with mu held.
func (s *Service) save(list []Profile) error {
	if list == nil {
		list = []Profile{}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal profiles failed")
	}
	if err := os.WriteFile(filepath.Join(s.dir, MetadataFile), data, 0o644); err != nil {
		return errors.Wrap(err, "write profiles failed")
	}
	return nil
}

func (s *Service) createDir(id string) error {
	if err := os.MkdirAll(s.NotesDir(id), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for profile %s failed", id)
	}
	return nil
}

func indexOf(list []Profile, id string) int {
	for i, p := range list {
		if strings.EqualFold(p.ID, id) {
			return i
		}
	}
	return -1
}

// Slug derives a directory-safe id from a display name: characters that
// are invalid in Windows file names split the name, spaces become
// underscores and the result is lower-cased.
func Slug(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r < 32 || strings.ContainsRune(`<>:"/\|?*`, r)
	})
	id := strings.ToLower(strings.ReplaceAll(strings.Join(parts, "_"), " ", "_"))
	if strings.Trim(id, "_.") == "" {
		return "profile"
	}
	return id
}

// migrate moves a layout from before profiles existed (Notes/ and
// presets.json directly in root) into the default profile, leaving
// _backup copies of the originals. It runs only while Profiles/ is absent.
func (s *Service) migrate() {
	if _, err := os.Stat(s.dir); err == nil {
		return
	}

	oldNotes := filepath.Join(s.root, "Notes")
	oldPresets := filepath.Join(s.root, PresetsFileName)
	_, notesErr := os.Stat(oldNotes)
	_, presetsErr := os.Stat(oldPresets)
	if notesErr != nil && presetsErr != nil {
		return
	}

	s.logger.Info("Migrating data into the default profile", zap.String("root", s.root))
	newNotes := s.NotesDir(DefaultID)
	if err := os.MkdirAll(newNotes, 0o755); err != nil {
		s.logger.Warn("Migration failed", zap.Error(err))
		return
	}

	if notesErr == nil {
		err := filepath.Walk(oldNotes, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			rel, err := filepath.Rel(oldNotes, path)
			if err != nil {
				return err
			}
			return copyFile(path, filepath.Join(newNotes, rel))
		})
		if err != nil {
			s.logger.Warn("Copying old notes failed", zap.Error(err))
		} else {
			backupTo(oldNotes, filepath.Join(s.root, "Notes_backup"), s.logger)
		}
	}

	if presetsErr == nil {
		if err := copyFile(oldPresets, s.PresetsPath(DefaultID)); err != nil {
			s.logger.Warn("Copying old presets failed", zap.Error(err))
		} else {
			backupTo(oldPresets, filepath.Join(s.root, "presets_backup.json"), s.logger)
		}
	}
}

func backupTo(from, to string, logger *zap.Logger) {
	if _, err := os.Stat(to); err == nil {
		return
	}
	if err := os.Rename(from, to); err != nil {
		logger.Warn("Could not rename migrated data", zap.String("from", from), zap.Error(err))
	}
}

// copyFile copies src to dst unless dst already exists.
func copyFile(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
