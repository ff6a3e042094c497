// Package prompts stores chat system prompts as YAML files, one per prompt,
// named <name>.yaml.
package prompts

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DefaultName    = "default"
	DefaultContent = "Du är en hjälpsam assistent för rollspel."

	extension  = ".yaml"
	dateLayout = "2006-01-02 15:04:05"
)

var (
	ErrNotFound  = errors.New("prompt not found")
	ErrInvalid   = errors.New("prompt needs a name and content")
	ErrProtected = errors.New("the default prompt cannot be deleted")
)

// Prompt is one system prompt definition.
type Prompt struct {
	Name        string
	DisplayName string
	Description string
	Content     string
	Version     string
	CreatedAt   time.Time
}

// Valid reports whether the prompt can be saved.
func (p Prompt) Valid() bool {
	return strings.TrimSpace(p.Name) != "" && strings.TrimSpace(p.Content) != ""
}

type document struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	// Older files used camelCase.
	DisplayNameAlt string `yaml:"displayName,omitempty"`
	Description    string `yaml:"description"`
	Version        string `yaml:"version"`
	CreatedAt      string `yaml:"created_at"`
	Content        string `yaml:"content"`
}

// Manager reads and writes prompt files in one directory.
type Manager struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewManager manages prompts in dir, creating it.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create prompts dir failed")
	}
	return &Manager{dir: dir, logger: logger.Named("prompts"), now: time.Now}, nil
}

// Dir returns the prompt directory.
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) path(name string) (string, error) {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", errors.Wrapf(ErrNotFound, "invalid prompt name %q", name)
	}
	return filepath.Join(m.dir, name+extension), nil
}

// Load reads a prompt by name.
func (m *Manager) Load(name string) (*Prompt, error) {
	path, err := m.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "prompt %s", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read prompt failed")
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse prompt %s failed", name)
	}

	p := &Prompt{
		Name:        doc.Name,
		DisplayName: doc.DisplayName,
		Description: doc.Description,
		Content:     strings.TrimSpace(doc.Content),
		Version:     doc.Version,
	}
	if p.Name == "" {
		p.Name = name
	}
	if p.DisplayName == "" {
		p.DisplayName = doc.DisplayNameAlt
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Name
	}
	if t, err := time.ParseInLocation(dateLayout, doc.CreatedAt, time.UTC); err == nil {
		p.CreatedAt = t
	}
	return p, nil
}

// Save writes p to <p.Name>.yaml.
func (m *Manager) Save(p *Prompt) error {
	if !p.Valid() {
		return ErrInvalid
	}
	path, err := m.path(p.Name)
	if err != nil {
		return err
	}
	if p.Version == "" {
		p.Version = "1.0"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now().UTC()
	}

	var buf bytes.Buffer
	buf.WriteString("# RPOverlay System Prompt\n")
	buf.WriteString("# Generated: " + m.now().UTC().Format(dateLayout) + "\n\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	err = enc.Encode(document{
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Description: p.Description,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt.UTC().Format(dateLayout),
		Content:     p.Content,
	})
	if err != nil {
		return errors.Wrap(err, "encode prompt failed")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "encode prompt failed")
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "write prompt failed")
	}
	return nil
}

// List returns the names of all prompts, sorted.
func (m *Manager) List() []string {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Warn("Failed to list prompts", zap.Error(err))
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != extension {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), extension))
	}
	sort.Strings(names)
	return names
}

// Delete removes a prompt. The default prompt is protected.
func (m *Manager) Delete(name string) error {
	if name == DefaultName {
		return ErrProtected
	}
	path, err := m.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrNotFound, "prompt %s", name)
		}
		return errors.Wrap(err, "delete prompt failed")
	}
	return nil
}

func (m *Manager) hasDefault() bool {
	_, err := os.Stat(filepath.Join(m.dir, DefaultName+extension))
	return err == nil
}

// EnsureDefault creates default.yaml when it does not exist.
func (m *Manager) EnsureDefault() error {
	if m.hasDefault() {
		return nil
	}
	return m.Save(&Prompt{
		Name:        DefaultName,
		DisplayName: "Standard",
		Description: "Default roleplay assistant",
		Content:     DefaultContent,
	})
}

// MigrateSystemPrompt turns the system prompt older versions kept in
// settings.ini into default.yaml. It does nothing once default.yaml exists.
func (m *Manager) MigrateSystemPrompt(content string) (bool, error) {
	if m.hasDefault() || strings.TrimSpace(content) == "" {
		return false, nil
	}
	err := m.Save(&Prompt{
		Name:        DefaultName,
		DisplayName: "Migrerad Prompt",
		Description: "Migrerad från settings.ini",
		Content:     content,
	})
	if err != nil {
		return false, err
	}
	m.logger.Info("Migrated system prompt from settings")
	return true, nil
}

// Resolve returns the content of the named prompt, falling back to the
// default prompt and then to DefaultContent.
func (m *Manager) Resolve(name string) string {
	for _, candidate := range []string{name, DefaultName} {
		if candidate == "" {
			continue
		}
		p, err := m.Load(candidate)
		if err == nil && p.Content != "" {
			return p.Content
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.Warn("Failed to load prompt", zap.String("name", candidate), zap.Error(err))
		}
	}
	return DefaultContent
}
