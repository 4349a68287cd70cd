package wchsync

import (
	"context"
	"crypto/md5" //nolint:gosec // fingerprinting
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
	"github.com/acoustic-content-samples/wchtools-go/internal/hashes"
	"github.com/acoustic-content-samples/wchtools-go/internal/localstore"
)

func b64(content string) string {
	sum := md5.Sum([]byte(content)) //nolint:gosec // fingerprinting

	return base64.StdEncoding.EncodeToString(sum[:])
}

// addServerAsset registers an asset item and its resource bytes on the
// fake hub.
func addServerAsset(f *fakeHub, id, virtualPath, resourceID, content string) {
	f.add("assets", artifact.Item{
		"id":       id,
		"rev":      "1",
		"path":     "/" + virtualPath,
		"name":     filepath.Base(virtualPath),
		"resource": resourceID,
		"digest":   b64(content),
		"status":   "ready",
	})

	f.mu.Lock()
	f.resources[resourceID] = []byte(content)
	f.mu.Unlock()
}

func assetOptions() Options {
	o := testOptions()
	o.DisableResources = true

	return o
}

// writeLocalAsset lays a binary (and optional sidecar) under assets/.
func writeLocalAsset(t *testing.T, dir, virtualPath, content string, meta artifact.Item) string {
	t.Helper()

	binPath := filepath.Join(dir, "assets", filepath.FromSlash(virtualPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(binPath), 0o755))
	require.NoError(t, os.WriteFile(binPath, []byte(content), 0o644))

	if meta != nil {
		store := localstore.NewAssetStore(dir, localstore.Options{})

		_, err := store.Save(meta, localstore.SaveOptions{Path: store.Rel(store.MetadataPath(binPath))})
		require.NoError(t, err)
	}

	return binPath
}

func TestPullAll_ContentAsset(t *testing.T) {
	rig := newTestRig(t)

	addServerAsset(rig.hub, "asset1", "dxdam/pics/hero.jpg", "res1", "jpegbytes")

	a := rig.engine.Assets()

	res, err := a.PullAll(context.Background(), rig.session, assetOptions())
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 1, rig.events.count(EventPulled))

	binPath := filepath.Join(rig.dir, "assets", "dxdam", "pics", "hero.jpg")

	data, readErr := os.ReadFile(binPath)
	require.NoError(t, readErr)
	assert.Equal(t, "jpegbytes", string(data))

	// Content assets carry the metadata sidecar.
	_, statErr := os.Stat(binPath + "_amd.json")
	assert.NoError(t, statErr)

	// Hashes track the asset and its resource.
	e, ok := rig.hashes.Entry("asset1")
	require.True(t, ok)
	assert.Equal(t, "res1", e.Resource)
	assert.Equal(t, b64("jpegbytes"), e.ResourceMD5)
	assert.Equal(t, "assets/dxdam/pics/hero.jpg", e.ResourcePath)
	assert.Equal(t, "assets/dxdam/pics/hero.jpg", rig.hashes.PathForResource("res1"))
}

func TestPullAll_WebAssetHasNoSidecar(t *testing.T) {
	rig := newTestRig(t)

	addServerAsset(rig.hub, "asset1", "styles/site.css", "res1", "body{}")

	a := rig.engine.Assets()

	_, err := a.PullAll(context.Background(), rig.session, assetOptions())
	require.NoError(t, err)

	binPath := filepath.Join(rig.dir, "assets", "styles", "site.css")

	_, statErr := os.Stat(binPath)
	assert.NoError(t, statErr)

	_, statErr = os.Stat(binPath + "_amd.json")
	assert.True(t, os.IsNotExist(statErr))
}

func TestPullAsset_DigestMismatchIsHardError(t *testing.T) {
	rig := newTestRig(t)

	addServerAsset(rig.hub, "asset1", "dxdam/pic.jpg", "res1", "realbytes")

	// The server digest no longer matches the bytes it serves.
	rig.hub.mu.Lock()
	rig.hub.items["assets"][0]["digest"] = b64("otherbytes")
	rig.hub.mu.Unlock()

	a := rig.engine.Assets()

	res, err := a.PullAll(context.Background(), rig.session, assetOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, rig.events.count(EventPulledError))

	// No hashes entry; the partial file survives for inspection.
	_, ok := rig.hashes.Entry("asset1")
	assert.False(t, ok)

	binPath := filepath.Join(rig.dir, "assets", "dxdam", "pic.jpg")

	_, statErr := os.Stat(binPath)
	assert.True(t, os.IsNotExist(statErr))

	_, statErr = os.Stat(binPath + ".partial")
	assert.NoError(t, statErr)

	// A failed pull never advances the watermark.
	assert.True(t, rig.hashes.LastPullTimestamp("assets").IsZero())
}

func TestPullAll_DraftRenamesBinary(t *testing.T) {
	rig := newTestRig(t)

	rig.hub.add("assets", artifact.Item{
		"id":       "base:draft",
		"rev":      "1",
		"path":     "/dxdam/pic.jpg",
		"name":     "pic.jpg",
		"resource": "res-d",
		"digest":   b64("draftbytes"),
		"status":   "draft",
	})
	rig.hub.mu.Lock()
	rig.hub.resources["res-d"] = []byte("draftbytes")
	rig.hub.mu.Unlock()

	a := rig.engine.Assets()

	_, err := a.PullAll(context.Background(), rig.session, assetOptions())
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(rig.dir, "assets", "dxdam", "pic_wchdraft.jpg"))
	assert.NoError(t, statErr)
}

func TestPull_SubKindWatermarksMoveIndependently(t *testing.T) {
	rig := newTestRig(t)

	addServerAsset(rig.hub, "web1", "styles/site.css", "res-w", "body{}")

	a := rig.engine.Assets()

	o := assetOptions()
	o.WebAssetsOnly = true

	_, err := a.PullAll(context.Background(), rig.session, o)
	require.NoError(t, err)

	ts := rig.hashes.LastPullTimestamp("assets")
	assert.NotEmpty(t, ts.ForWebAssets())
	assert.Empty(t, ts.ForContentAssets())
}

func TestPushAll_ContentAsset(t *testing.T) {
	rig := newTestRig(t)

	writeLocalAsset(t, rig.dir, "dxdam/pics/hero.jpg", "jpegbytes", nil)

	a := rig.engine.Assets()

	res, err := a.PushAll(context.Background(), rig.session, assetOptions())
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 1, rig.events.count(EventPushed))

	// The server saw the binary and minted metadata.
	rig.hub.mu.Lock()
	require.Len(t, rig.hub.items["assets"], 1)
	pushed := rig.hub.items["assets"][0]
	rig.hub.mu.Unlock()

	assert.Equal(t, "/dxdam/pics/hero.jpg", pushed.Path())

	// Hashes track the new resource MD5.
	e, ok := rig.hashes.Entry(pushed.ID())
	require.True(t, ok)
	assert.Equal(t, b64("jpegbytes"), e.ResourceMD5)

	assert.NotEmpty(t, rig.hashes.LastPushTimestamp("assets").ForWebAssets())
}

func TestPushAsset_ChangedBinaryReplacesResource(t *testing.T) {
	rig := newTestRig(t)

	// First push records the original MD5.
	binPath := writeLocalAsset(t, rig.dir, "dxdam/hero.jpg", "version-one", nil)

	a := rig.engine.Assets()

	_, err := a.PushAll(context.Background(), rig.session, assetOptions())
	require.NoError(t, err)

	// The binary changes; the metadata item persists server-side.
	require.NoError(t, os.WriteFile(binPath, []byte("version-two!"), 0o644))

	var sawReplace bool

	base := rig.hub.srv.Config.Handler
	rig.hub.srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Query().Get("replaceContentResource") == "true" {
			sawReplace = true
		}

		base.ServeHTTP(w, r)
	})

	_, err = a.PushAll(context.Background(), rig.session, assetOptions())
	require.NoError(t, err)

	assert.True(t, sawReplace)

	// The hashes entry carries the new MD5.
	rig.hub.mu.Lock()
	id := rig.hub.items["assets"][0].ID()
	rig.hub.mu.Unlock()

	e, ok := rig.hashes.Entry(id)
	require.True(t, ok)
	assert.Equal(t, b64("version-two!"), e.ResourceMD5)
}

func TestPushAll_ReadyBatchBeforeDraftBatch(t *testing.T) {
	rig := newTestRig(t)

	writeLocalAsset(t, rig.dir, "dxdam/a_wchdraft.jpg", "draft-bytes", nil)
	writeLocalAsset(t, rig.dir, "dxdam/b.jpg", "ready-bytes", nil)

	a := rig.engine.Assets()

	_, err := a.PushAll(context.Background(), rig.session, assetOptions())
	require.NoError(t, err)

	rig.hub.mu.Lock()
	order := append([]string(nil), rig.hub.pushOrder...)
	rig.hub.mu.Unlock()

	require.Len(t, order, 2)
	assert.Equal(t, "b.jpg", order[0])
	assert.Equal(t, "a.jpg", order[1])
}

func TestDraftAndReadyHashesEntriesAreSeparate(t *testing.T) {
	rig := newTestRig(t)

	addServerAsset(rig.hub, "base", "dxdam/pic.jpg", "res-r", "readybytes")
	rig.hub.add("assets", artifact.Item{
		"id":       "base:draft",
		"rev":      "1",
		"path":     "/dxdam/pic.jpg",
		"name":     "pic.jpg",
		"resource": "res-d",
		"digest":   b64("draftbytes"),
		"status":   "draft",
	})
	rig.hub.mu.Lock()
	rig.hub.resources["res-d"] = []byte("draftbytes")
	rig.hub.mu.Unlock()

	a := rig.engine.Assets()

	_, err := a.PullAll(context.Background(), rig.session, assetOptions())
	require.NoError(t, err)

	ready, ok := rig.hashes.Entry("base")
	require.True(t, ok)

	draft, ok := rig.hashes.Entry("base:draft")
	require.True(t, ok)

	assert.NotEqual(t, ready.ResourcePath, draft.ResourcePath)
	assert.Equal(t, b64("readybytes"), ready.ResourceMD5)
	assert.Equal(t, b64("draftbytes"), draft.ResourceMD5)
}

func TestPullByPath(t *testing.T) {
	rig := newTestRig(t)

	addServerAsset(rig.hub, "a1", "dxdam/one.jpg", "r1", "one")
	addServerAsset(rig.hub, "a2", "dxdam/two.jpg", "r2", "two")

	a := rig.engine.Assets()

	item, err := a.PullByPath(context.Background(), rig.session, assetOptions(), "dxdam/two.jpg")
	require.NoError(t, err)
	assert.Equal(t, "a2", item.ID())

	_, statErr := os.Stat(filepath.Join(rig.dir, "assets", "dxdam", "two.jpg"))
	assert.NoError(t, statErr)

	// The sibling was not pulled.
	_, statErr = os.Stat(filepath.Join(rig.dir, "assets", "dxdam", "one.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPullByPath_NotFound(t *testing.T) {
	rig := newTestRig(t)

	a := rig.engine.Assets()

	_, err := a.PullByPath(context.Background(), rig.session, assetOptions(), "dxdam/ghost.jpg")
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestListModifiedLocal_Assets(t *testing.T) {
	rig := newTestRig(t)

	addServerAsset(rig.hub, "asset1", "dxdam/hero.jpg", "res1", "jpegbytes")

	a := rig.engine.Assets()

	_, err := a.PullAll(context.Background(), rig.session, assetOptions())
	require.NoError(t, err)

	// Untouched: nothing is modified.
	proxies, err := a.ListModifiedLocal(hashes.New|hashes.Modified, assetOptions())
	require.NoError(t, err)
	assert.Empty(t, proxies)

	// Change the binary: the asset shows up.
	binPath := filepath.Join(rig.dir, "assets", "dxdam", "hero.jpg")
	require.NoError(t, os.WriteFile(binPath, []byte("edited-bytes"), 0o644))

	future := time.Now().Add(3 * time.Second)
	require.NoError(t, os.Chtimes(binPath, future, future))

	proxies, err = a.ListModifiedLocal(hashes.New|hashes.Modified, assetOptions())
	require.NoError(t, err)
	assert.Len(t, proxies, 1)
}

func TestResourcesStep_PullsOrphans(t *testing.T) {
	rig := newTestRig(t)

	// A resource with no referencing asset.
	rig.hub.mu.Lock()
	rig.hub.resources["orphan1"] = []byte("orphan-bytes")
	rig.hub.mu.Unlock()

	a := rig.engine.Assets()

	o := testOptions() // resources step enabled

	_, err := a.PullAll(context.Background(), rig.session, o)
	require.NoError(t, err)

	assert.Equal(t, 1, rig.events.count(EventResourcePulled))

	path := rig.engine.Assets().store.Resources().FindPath("orphan1")
	require.NotEmpty(t, path)

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "orphan-bytes", string(data))
}
