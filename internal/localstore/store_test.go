package localstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	dir := t.TempDir()

	return New(dir, artifact.Content, Options{}), dir
}

func TestItemPath_PrefersID(t *testing.T) {
	s, dir := newTestStore(t)

	item := artifact.Item{"id": "abc-123", "name": "My Article"}
	assert.Equal(t, filepath.Join(dir, "content", "abc-123_cmd.json"), s.ItemPath(item))

	noID := artifact.Item{"name": "My Article"}
	assert.Equal(t, filepath.Join(dir, "content", "My Article_cmd.json"), s.ItemPath(noID))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeName(`a<b>c`, false)[:5])
	assert.Equal(t, "slash_name", SanitizeName("slash/name", false))
	assert.Equal(t, "keep/slash", SanitizeName("keep/slash", true))
	assert.Equal(t, "trimmed", SanitizeName("  trimmed  ", false))
}

func TestSaveAndRead_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	item := artifact.Item{"id": "a", "rev": "1", "elements": map[string]any{"title": "hi"}}

	path, err := s.Save(item, SaveOptions{})
	require.NoError(t, err)

	got, err := s.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID())

	elements, ok := got["elements"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", elements["title"])
}

func TestSave_ConflictVariant(t *testing.T) {
	s, _ := newTestStore(t)

	item := artifact.Item{"id": "a", "rev": "2"}

	path, err := s.Save(item, SaveOptions{Conflict: true})
	require.NoError(t, err)
	assert.True(t, filepath.Ext(path) == ".conflict")

	// The regular file was not written.
	_, statErr := os.Stat(s.ItemPath(item))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSave_PathOverride(t *testing.T) {
	s, dir := newTestStore(t)

	item := artifact.Item{"id": "a"}

	path, err := s.Save(item, SaveOptions{Path: "content/custom_cmd.json"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "content", "custom_cmd.json"), path)
}

func TestSave_PruneFields(t *testing.T) {
	dir := t.TempDir()

	desc := artifact.Content
	desc.PruneFields = []string{"systemModified"}

	s := New(dir, desc, Options{})

	item := artifact.Item{"id": "a", "systemModified": "x", "keep": "y"}

	path, err := s.Save(item, SaveOptions{})
	require.NoError(t, err)

	got, err := s.Read(path)
	require.NoError(t, err)
	assert.NotContains(t, got, "systemModified")
	assert.Contains(t, got, "keep")

	// The caller's item is untouched.
	assert.Contains(t, item, "systemModified")
}

func TestSave_RenameReconciliation(t *testing.T) {
	s, dir := newTestStore(t)

	// An earlier pull left the id-named file; the user renamed their copy.
	old, err := s.Save(artifact.Item{"id": "a", "rev": "1"}, SaveOptions{})
	require.NoError(t, err)

	idMap, err := s.IDMap()
	require.NoError(t, err)
	require.Contains(t, idMap, "a")

	// Writing the same id to a new path removes the old file.
	path, err := s.Save(artifact.Item{"id": "a", "rev": "2"}, SaveOptions{
		IDMap: idMap,
		Path:  "content/renamed_cmd.json",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "content", "renamed_cmd.json"), path)

	_, statErr := os.Stat(old)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSave_RenameReconciliation_SkipsReusedFile(t *testing.T) {
	s, _ := newTestStore(t)

	old, err := s.Save(artifact.Item{"id": "a"}, SaveOptions{})
	require.NoError(t, err)

	idMap, err := s.IDMap()
	require.NoError(t, err)

	// The candidate file was re-used for a different artifact since the
	// map was built — it must survive.
	require.NoError(t, os.WriteFile(old, []byte(`{"id":"other"}`), 0o644))

	_, err = s.Save(artifact.Item{"id": "a"}, SaveOptions{
		IDMap: idMap,
		Path:  "content/new_cmd.json",
	})
	require.NoError(t, err)

	_, statErr := os.Stat(old)
	assert.NoError(t, statErr)
}

func TestSave_LegacyOriginalPushFileName(t *testing.T) {
	s, _ := newTestStore(t)

	old, err := s.Save(artifact.Item{"id": "a"}, SaveOptions{Path: "content/old-name_cmd.json"})
	require.NoError(t, err)

	_, err = s.Save(artifact.Item{"id": "a"}, SaveOptions{OriginalPushFileName: old})
	require.NoError(t, err)

	_, statErr := os.Stat(old)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDelete_PrunesEmptyDirs(t *testing.T) {
	s, dir := newTestStore(t)

	path, err := s.Save(artifact.Item{"id": "a"}, SaveOptions{Path: "content/sub/deep/a_cmd.json"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(path))

	_, statErr := os.Stat(filepath.Join(dir, "content", "sub"))
	assert.True(t, os.IsNotExist(statErr))

	// The virtual folder itself survives.
	_, statErr = os.Stat(filepath.Join(dir, "content"))
	assert.NoError(t, statErr)
}

func TestListNames(t *testing.T) {
	s, dir := newTestStore(t)

	_, err := s.Save(artifact.Item{"id": "a", "name": "Alpha", "status": "ready"}, SaveOptions{})
	require.NoError(t, err)
	_, err = s.Save(artifact.Item{"id": "b", "name": "Beta"}, SaveOptions{})
	require.NoError(t, err)

	// An unparseable file still yields a proxy, with an empty id.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content", "broken_cmd.json"), []byte("{oops"), 0o644))

	// Files without the suffix are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content", "notes.txt"), []byte("x"), 0o644))

	proxies, err := s.ListNames(ListOptions{AdditionalProperties: []string{"status"}})
	require.NoError(t, err)
	require.Len(t, proxies, 3)

	byID := map[string]artifact.Proxy{}
	empty := 0

	for _, p := range proxies {
		if p.ID == "" {
			empty++

			continue
		}

		byID[p.ID] = p
	}

	assert.Equal(t, 1, empty)
	assert.Equal(t, "Alpha", byID["a"].Name)
	assert.Equal(t, "ready", byID["a"].Extra["status"])
}

func TestListNames_MissingFolder(t *testing.T) {
	s, _ := newTestStore(t)

	proxies, err := s.ListNames(ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, proxies)
}

func TestNoVirtualFolder(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, artifact.Content, Options{NoVirtualFolder: true})

	assert.Equal(t, dir, s.Dir())
}

func TestIgnore(t *testing.T) {
	ig := DefaultIgnore()

	assert.True(t, ig.SkipFile(".wchtoolshashes"))
	assert.True(t, ig.SkipFile("x.tmp"))
	assert.True(t, ig.SkipDir(".git"))
	assert.False(t, ig.SkipFile("a_cmd.json"))

	custom := NewIgnore([]string{"*.bak"}, []string{"build"}, true)
	assert.True(t, custom.SkipFile("old.bak"))
	assert.True(t, custom.SkipDir("build"))
	assert.True(t, custom.SkipDir(".git"))

	replaced := NewIgnore(nil, nil, false)
	assert.False(t, replaced.SkipDir(".git"))
}
