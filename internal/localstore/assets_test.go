package localstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
)

func newAssetStore(t *testing.T) (*AssetStore, string) {
	t.Helper()

	dir := t.TempDir()

	return NewAssetStore(dir, Options{}), dir
}

func TestBinaryPath(t *testing.T) {
	s, dir := newAssetStore(t)

	ready := artifact.Item{"path": "/dxdam/pics/hero.jpg", "status": "ready"}
	assert.Equal(t, filepath.Join(dir, "assets", "dxdam", "pics", "hero.jpg"), s.BinaryPath(ready))

	draft := artifact.Item{"path": "/dxdam/pics/hero.jpg", "status": "draft"}
	assert.Equal(t, filepath.Join(dir, "assets", "dxdam", "pics", "hero_wchdraft.jpg"), s.BinaryPath(draft))
}

func TestVirtualPath_RoundTrip(t *testing.T) {
	s, _ := newAssetStore(t)

	ready := artifact.Item{"path": "/dxdam/pics/hero.jpg"}
	assert.Equal(t, "dxdam/pics/hero.jpg", s.VirtualPath(s.BinaryPath(ready)))

	// Draft renames reverse on the way back.
	draft := artifact.Item{"path": "/dxdam/pics/hero.jpg", "status": "draft"}
	assert.Equal(t, "dxdam/pics/hero.jpg", s.VirtualPath(s.BinaryPath(draft)))
}

func TestMetadataPath(t *testing.T) {
	s, _ := newAssetStore(t)

	bin := s.BinaryPath(artifact.Item{"path": "dxdam/a.png"})
	assert.Equal(t, bin+"_amd.json", s.MetadataPath(bin))
	assert.True(t, IsMetadataFile("a.png_amd.json"))
	assert.False(t, IsMetadataFile("a.png"))
}

func TestListBinaries(t *testing.T) {
	s, dir := newAssetStore(t)

	// A web asset: just the binary.
	webPath := filepath.Join(dir, "assets", "styles", "site.css")
	require.NoError(t, os.MkdirAll(filepath.Dir(webPath), 0o755))
	require.NoError(t, os.WriteFile(webPath, []byte("body{}"), 0o644))

	// A content asset: binary plus sidecar.
	binPath := filepath.Join(dir, "assets", "dxdam", "hero.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(binPath), 0o755))
	require.NoError(t, os.WriteFile(binPath, []byte("jpegbytes"), 0o644))
	require.NoError(t, os.WriteFile(binPath+"_amd.json",
		[]byte(`{"id":"asset1","status":"ready","resource":"res1"}`), 0o644))

	proxies, err := s.ListBinaries()
	require.NoError(t, err)
	require.Len(t, proxies, 2)

	byPath := map[string]artifact.Proxy{}
	for _, p := range proxies {
		byPath[p.Path] = p
	}

	web := byPath["assets/styles/site.css"]
	assert.Empty(t, web.ID)

	content := byPath["assets/dxdam/hero.jpg"]
	assert.Equal(t, "asset1", content.ID)
	assert.Equal(t, "res1", content.Extra["resource"])
}

func TestDeleteAsset_RemovesAllFacets(t *testing.T) {
	s, dir := newAssetStore(t)

	binPath := filepath.Join(dir, "assets", "dxdam", "hero.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(binPath), 0o755))
	require.NoError(t, os.WriteFile(binPath, []byte("jpegbytes"), 0o644))
	require.NoError(t, os.WriteFile(binPath+"_amd.json", []byte(`{"id":"asset1"}`), 0o644))

	resPath := s.Resources().Path("abcd_1", "hero.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(resPath), 0o755))
	require.NoError(t, os.WriteFile(resPath, []byte("jpegbytes"), 0o644))

	require.NoError(t, s.DeleteAsset(binPath, "abcd_1"))

	for _, p := range []string{binPath, binPath + "_amd.json", resPath} {
		_, statErr := os.Stat(p)
		assert.True(t, os.IsNotExist(statErr), p)
	}
}
