package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewCreatesDefaultProfile(t *testing.T) {
	s := newTestService(t)
	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, DefaultID, list[0].ID)
	assert.Equal(t, DefaultName, list[0].Name)
	assert.DirExists(t, s.NotesDir(DefaultID))
	assert.Equal(t, DefaultID, s.Active())
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Polis Anna": "polis_anna",
		"A/B:C":      "a_b_c",
		"???":        "profile",
		"Läkare":     "läkare",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slug(in), in)
	}
}

func TestCreateSuffixesCollisions(t *testing.T) {
	s := newTestService(t)
	a, err := s.Create("Medic")
	require.NoError(t, err)
	b, err := s.Create("medic")
	require.NoError(t, err)
	c, err := s.Create("MEDIC")
	require.NoError(t, err)

	assert.Equal(t, "medic", a.ID)
	assert.Equal(t, "medic_1", b.ID)
	assert.Equal(t, "medic_2", c.ID)
	assert.DirExists(t, s.NotesDir("medic_2"))

	_, err = s.Create("   ")
	assert.True(t, errors.Is(err, ErrEmptyName))
}

func TestRenameAndGet(t *testing.T) {
	s := newTestService(t)
	p, err := s.Create("Old")
	require.NoError(t, err)
	require.NoError(t, s.Rename(p.ID, "New"))

	got, ok := s.Get("OLD")
	require.True(t, ok)
	assert.Equal(t, "New", got.Name)

	assert.True(t, errors.Is(s.Rename("missing", "x"), ErrNotFound))
}

func TestDelete(t *testing.T) {
	s := newTestService(t)
	p, err := s.Create("Temp")
	require.NoError(t, err)

	require.NoError(t, s.Delete(p.ID))
	assert.NoDirExists(t, s.Dir(p.ID))
	_, ok := s.Get(p.ID)
	assert.False(t, ok)

	assert.True(t, errors.Is(s.Delete("Default"), ErrProtected))
	assert.True(t, errors.Is(s.Delete(p.ID), ErrNotFound))
}

func TestActiveProfilePersists(t *testing.T) {
	s := newTestService(t)
	p, err := s.Create("Brandman")
	require.NoError(t, err)
	require.NoError(t, s.SetActive(p.ID))

	reopened, err := New(s.Root(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, p.ID, reopened.Active())

	require.NoError(t, reopened.Delete(p.ID))
	assert.Equal(t, DefaultID, reopened.Active())

	assert.True(t, errors.Is(s.SetActive("ghost"), ErrNotFound))
}

func TestMigrateLegacyLayout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Notes", "Archive"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Notes", "a.yml"), []byte("content: a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Notes", "Archive", "b.yml"), []byte("content: b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, PresetsFileName), []byte(`{"hotkey":"F8"}`), 0o644))

	s, err := New(root, zap.NewNop())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(s.NotesDir(DefaultID), "a.yml"))
	assert.FileExists(t, filepath.Join(s.NotesDir(DefaultID), "Archive", "b.yml"))
	assert.FileExists(t, s.PresetsPath(DefaultID))
	assert.DirExists(t, filepath.Join(root, "Notes_backup"))
	assert.FileExists(t, filepath.Join(root, "presets_backup.json"))
	assert.NoFileExists(t, filepath.Join(root, PresetsFileName))

	data, err := os.ReadFile(s.PresetsPath(DefaultID))
	require.NoError(t, err)
	assert.Equal(t, `{"hotkey":"F8"}`, string(data))
	assert.Len(t, s.List(), 1)
}

func TestMigrateSkippedOnceProfilesExist(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), PresetsFileName), []byte(`{}`), 0o644))

	_, err := New(s.Root(), zap.NewNop())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(s.Root(), PresetsFileName))
	assert.NoFileExists(t, filepath.Join(s.Root(), "presets_backup.json"))
}
