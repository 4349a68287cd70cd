package wchsync

import (
	"context"
	"crypto/md5" //nolint:gosec // fingerprinting
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
	"github.com/acoustic-content-samples/wchtools-go/internal/hashes"
	"github.com/acoustic-content-samples/wchtools-go/internal/hub"
	"github.com/acoustic-content-samples/wchtools-go/internal/localstore"
	"github.com/acoustic-content-samples/wchtools-go/internal/manifest"
	"github.com/acoustic-content-samples/wchtools-go/internal/retrier"
)

// manifestWith builds an input manifest naming the given items.
func manifestWith(t *testing.T, section string, items ...artifact.Item) *manifest.Manifest {
	t.Helper()

	m := manifest.New()
	m.Append(section, items)

	return m
}

// collector records events for assertions.
type collector struct {
	mu     stdsync.Mutex
	events []Event
}

func (c *collector) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, e)
}

func (c *collector) count(name EventName) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0

	for _, e := range c.events {
		if e.Name == name {
			n++
		}
	}

	return n
}

func (c *collector) paths(name EventName) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string

	for _, e := range c.events {
		if e.Name == name {
			out = append(out, e.Path)
		}
	}

	return out
}

// fakeHub is an in-memory content hub served over httptest.
type fakeHub struct {
	mu        stdsync.Mutex
	items     map[string][]artifact.Item
	resources map[string][]byte

	// pushFailures maps an item name to the number of 500 responses to
	// return before succeeding.
	pushFailures map[string]int

	// deleteFailures maps an id to the number of reference-violation
	// responses to return before succeeding.
	deleteFailures map[string]int

	requests     atomic.Int64
	inFlight     atomic.Int32
	peakInFlight atomic.Int32

	pushOrder []string

	srv *httptest.Server
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()

	f := &fakeHub{
		items:          make(map[string][]artifact.Item),
		resources:      make(map[string][]byte),
		pushFailures:   make(map[string]int),
		deleteFailures: make(map[string]int),
	}

	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeHub) add(service string, item artifact.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items[service] = append(f.items[service], item)
}

func (f *fakeHub) find(service, id string) (artifact.Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, it := range f.items[service] {
		if it.ID() == id {
			return it, true
		}
	}

	return nil, false
}

func (f *fakeHub) handle(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)

	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)

	for {
		peak := f.peakInFlight.Load()
		if cur <= peak || f.peakInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/authoring/v1/"), "/")
	service := parts[0]

	switch {
	case service == "resources" && len(parts) == 2 && r.Method == http.MethodGet:
		f.serveResource(w, parts[1])
	case service == "resources" && r.Method == http.MethodGet:
		f.serveResourceList(w)
	case service == "assets" && r.Method == http.MethodPost:
		f.serveAssetPush(w, r)
	case r.Method == http.MethodGet && len(parts) == 1:
		f.servePage(w, r, service)
	case r.Method == http.MethodGet && len(parts) == 2:
		f.serveItem(w, service, parts[1])
	case r.Method == http.MethodPost:
		f.serveCreate(w, r, service)
	case r.Method == http.MethodPut:
		f.serveUpdate(w, r, service, parts[1])
	case r.Method == http.MethodDelete:
		f.serveDelete(w, service, parts[1])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeHub) servePage(w http.ResponseWriter, r *http.Request, service string) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	f.mu.Lock()
	all := f.items[service]

	var page []artifact.Item

	if offset < len(all) {
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}

		page = append(page, all[offset:end]...)
	}
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]any{"items": page, "offset": offset, "limit": limit})
}

func (f *fakeHub) serveItem(w http.ResponseWriter, service, id string) {
	if it, ok := f.find(service, id); ok {
		_ = json.NewEncoder(w).Encode(it)

		return
	}

	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"message":"not found"}`))
}

func (f *fakeHub) serveCreate(w http.ResponseWriter, r *http.Request, service string) {
	var item artifact.Item
	_ = json.NewDecoder(r.Body).Decode(&item)

	if f.failPush(w, item.Name()) {
		return
	}

	f.mu.Lock()

	if item.ID() == "" {
		item["id"] = fmt.Sprintf("gen-%d", len(f.items[service])+1)
	}

	item["rev"] = "1-server"
	f.items[service] = append(f.items[service], item)
	f.pushOrder = append(f.pushOrder, item.Name())
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(item)
}

func (f *fakeHub) serveUpdate(w http.ResponseWriter, r *http.Request, service, id string) {
	var item artifact.Item
	_ = json.NewDecoder(r.Body).Decode(&item)

	if f.failPush(w, item.Name()) {
		return
	}

	f.mu.Lock()

	item["rev"] = item.Rev() + "+1"

	replaced := false

	for i, existing := range f.items[service] {
		if existing.ID() == id {
			f.items[service][i] = item
			replaced = true

			break
		}
	}

	if !replaced {
		f.items[service] = append(f.items[service], item)
	}

	f.pushOrder = append(f.pushOrder, item.Name())
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(item)
}

// failPush consumes one queued failure for the named item.
func (f *fakeHub) failPush(w http.ResponseWriter, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pushFailures[name] > 0 {
		f.pushFailures[name]--

		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"transient"}`))

		return true
	}

	return false
}

func (f *fakeHub) serveDelete(w http.ResponseWriter, service, id string) {
	f.mu.Lock()

	if f.deleteFailures[id] > 0 {
		f.deleteFailures[id]--
		f.mu.Unlock()

		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"code":6001,"message":"still referenced"}]}`))

		return
	}

	found := false

	for i, it := range f.items[service] {
		if it.ID() == id {
			f.items[service] = append(f.items[service][:i], f.items[service][i+1:]...)
			found = true

			break
		}
	}
	f.mu.Unlock()

	if !found {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"gone"}`))

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeHub) serveResource(w http.ResponseWriter, id string) {
	f.mu.Lock()
	data, ok := f.resources[id]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.bin"`)
	_, _ = w.Write(data)
}

func (f *fakeHub) serveResourceList(w http.ResponseWriter) {
	f.mu.Lock()

	refs := make([]map[string]any, 0, len(f.resources))
	for id := range f.resources {
		refs = append(refs, map[string]any{"id": id, "name": id + ".bin"})
	}
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]any{"items": refs})
}

func (f *fakeHub) serveAssetPush(w http.ResponseWriter, r *http.Request) {
	body := make([]byte, 0)

	buf := make([]byte, 4096)

	for {
		n, err := r.Body.Read(buf)
		body = append(body, buf[:n]...)

		if err != nil {
			break
		}
	}

	q := r.URL.Query()
	virtual := q.Get("path")

	if f.failPush(w, q.Get("name")) {
		return
	}

	sum := md5.Sum(body) //nolint:gosec // fingerprinting

	f.mu.Lock()

	item := artifact.Item{
		"path":     virtual,
		"name":     q.Get("name"),
		"resource": q.Get("resourceId"),
		"digest":   base64.StdEncoding.EncodeToString(sum[:]),
		"status":   "ready",
	}

	replaced := false

	for i, existing := range f.items["assets"] {
		if existing.Path() == virtual {
			item["id"] = existing.ID()
			item["rev"] = existing.Rev() + "+1"
			f.items["assets"][i] = item
			replaced = true

			break
		}
	}

	if !replaced {
		item["id"] = fmt.Sprintf("asset-%d", len(f.items["assets"])+1)
		item["rev"] = "1-server"
		f.items["assets"] = append(f.items["assets"], item)
	}

	f.resources[q.Get("resourceId")] = body
	f.pushOrder = append(f.pushOrder, q.Get("name"))
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(item)
}

// testRig bundles the engine pieces for one test.
type testRig struct {
	hub     *fakeHub
	engine  *Engine
	hashes  *hashes.Store
	dir     string
	events  *collector
	session *Session
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	f := newFakeHub(t)
	dir := t.TempDir()

	client := hub.NewClient(f.srv.URL, "tenant-1", http.DefaultClient, hub.StaticToken("x"), slog.Default(), "test")

	hs, err := hashes.Open(dir, hashes.Options{
		Tenant:    hashes.TenantKey{ID: "tenant-1", BaseURL: f.srv.URL},
		UseHashes: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = hs.Close() })

	engine := NewEngine(client, dir, hs, slog.Default(), localstore.Options{Cache: true})

	events := &collector{}

	return &testRig{
		hub:     f,
		engine:  engine,
		hashes:  hs,
		dir:     dir,
		events:  events,
		session: NewSession(events, slog.Default()),
	}
}

func (r *testRig) contentHelper(t *testing.T) *Helper {
	t.Helper()

	h, ok := r.engine.Helper("content")
	require.True(t, ok)

	return h
}

func fastRetry() retrier.Options {
	return retrier.Options{
		MaxAttempts: 3,
		MinTimeout:  time.Millisecond,
		MaxTimeout:  5 * time.Millisecond,
		Factor:      2,
	}
}

func testOptions() Options {
	return Options{Limit: 10, Retry: fastRetry()}
}

// ---------------------------------------------------------------------------
// Pull

func TestPullAll_EmptyLocalStore(t *testing.T) {
	rig := newTestRig(t)

	for _, id := range []string{"a", "b", "c"} {
		rig.hub.add("content", artifact.Item{"id": id, "rev": "1", "name": "item-" + id})
	}

	h := rig.contentHelper(t)

	res, err := h.PullAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
	assert.Zero(t, res.Errors)
	assert.Equal(t, 3, rig.events.count(EventPulled))

	for _, id := range []string{"a", "b", "c"} {
		path := filepath.Join(rig.dir, "content", id+"_cmd.json")

		_, statErr := os.Stat(path)
		assert.NoError(t, statErr, path)

		e, ok := rig.hashes.Entry(id)
		require.True(t, ok, id)
		assert.Equal(t, "1", e.Rev)
	}

	assert.NotEmpty(t, rig.hashes.LastPullTimestamp("content").Single())
}

func TestPullModified_SecondPassIsIdempotent(t *testing.T) {
	rig := newTestRig(t)

	rig.hub.add("content", artifact.Item{"id": "a", "rev": "1"})

	h := rig.contentHelper(t)

	_, err := h.PullAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)
	require.Equal(t, 1, rig.events.count(EventPulled))

	// Nothing changed server-side: the modified pull filters everything
	// out through the rev comparison.
	res, err := h.PullModified(context.Background(), rig.session, testOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, 1, rig.events.count(EventPulled))
}

func TestPullModified_PicksUpRevChange(t *testing.T) {
	rig := newTestRig(t)

	rig.hub.add("content", artifact.Item{"id": "a", "rev": "1"})

	h := rig.contentHelper(t)

	_, err := h.PullAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)

	rig.hub.mu.Lock()
	rig.hub.items["content"][0]["rev"] = "2"
	rig.hub.mu.Unlock()

	res, err := h.PullModified(context.Background(), rig.session, testOptions())
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	e, _ := rig.hashes.Entry("a")
	assert.Equal(t, "2", e.Rev)
}

func TestPull_FilteredDoesNotAdvanceWatermark(t *testing.T) {
	rig := newTestRig(t)

	rig.hub.add("content", artifact.Item{"id": "a", "rev": "1", "status": "ready"})

	h := rig.contentHelper(t)

	o := testOptions()
	o.FilterReady = true

	_, err := h.PullAll(context.Background(), rig.session, o)
	require.NoError(t, err)

	assert.True(t, rig.hashes.LastPullTimestamp("content").IsZero())
}

func TestPull_ErrorDoesNotAdvanceWatermark(t *testing.T) {
	rig := newTestRig(t)

	// An item whose file write fails: id maps to an invalid path via a
	// conflicting directory. Simpler: serve an item, then make the
	// content folder a file so writes fail.
	rig.hub.add("content", artifact.Item{"id": "a", "rev": "1"})
	require.NoError(t, os.WriteFile(filepath.Join(rig.dir, "content"), []byte("block"), 0o644))

	h := rig.contentHelper(t)

	res, err := h.PullAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, rig.events.count(EventPulledError))
	assert.True(t, rig.hashes.LastPullTimestamp("content").IsZero())
}

func TestPull_DeletionReconciliation(t *testing.T) {
	rig := newTestRig(t)

	rig.hub.add("content", artifact.Item{"id": "c", "rev": "1"})

	// Two local files; only c exists on the server.
	local := localstore.New(rig.dir, artifact.Content, localstore.Options{})

	_, err := local.Save(artifact.Item{"id": "c", "rev": "1"}, localstore.SaveOptions{})
	require.NoError(t, err)
	_, err = local.Save(artifact.Item{"id": "d", "rev": "1"}, localstore.SaveOptions{})
	require.NoError(t, err)

	h := rig.contentHelper(t)

	o := testOptions()
	o.Deletions = true

	_, err = h.PullAll(context.Background(), rig.session, o)
	require.NoError(t, err)

	require.Equal(t, 1, rig.events.count(EventLocalOnly))
	assert.Equal(t, []string{"content/d_cmd.json"}, rig.events.paths(EventLocalOnly))

	// The engine never deletes the local file itself.
	_, statErr := os.Stat(filepath.Join(rig.dir, "content", "d_cmd.json"))
	assert.NoError(t, statErr)
}

func TestPullItem_NotFound(t *testing.T) {
	rig := newTestRig(t)
	h := rig.contentHelper(t)

	_, err := h.PullItem(context.Background(), rig.session, testOptions(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, hub.ErrNotFound)
	assert.Equal(t, 1, rig.events.count(EventPulledError))
}

// ---------------------------------------------------------------------------
// Push

func TestPushAll_CreateAndUpdate(t *testing.T) {
	rig := newTestRig(t)

	local := localstore.New(rig.dir, artifact.Content, localstore.Options{})

	// A fresh item (no rev) and a known item (id+rev).
	_, err := local.Save(artifact.Item{"id": "new-1", "name": "fresh"}, localstore.SaveOptions{})
	require.NoError(t, err)
	_, err = local.Save(artifact.Item{"id": "known", "rev": "1", "name": "known"}, localstore.SaveOptions{})
	require.NoError(t, err)

	h := rig.contentHelper(t)

	res, err := h.PushAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 2, rig.events.count(EventPushed))
	assert.Zero(t, rig.session.ErrorCount())

	// Hashes carry the server revs.
	e, ok := rig.hashes.Entry("known")
	require.True(t, ok)
	assert.Equal(t, "1+1", e.Rev)

	assert.NotEmpty(t, rig.hashes.LastPushTimestamp("content").Single())
}

func TestPushModified_OnlyChangedFiles(t *testing.T) {
	rig := newTestRig(t)

	rig.hub.add("content", artifact.Item{"id": "a", "rev": "1"})

	h := rig.contentHelper(t)

	_, err := h.PullAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)

	// Nothing modified: nothing pushes.
	res, err := h.PushModified(context.Background(), rig.session, testOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	// Change the file; now it pushes.
	path := filepath.Join(rig.dir, "content", "a_cmd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"a","rev":"1","name":"edited"}`), 0o644))

	future := time.Now().Add(3 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	res, err = h.PushModified(context.Background(), rig.session, testOptions())
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "edited", res.Items[0].Name())
}

func TestPush_RetryAfterTransientErrors(t *testing.T) {
	rig := newTestRig(t)

	local := localstore.New(rig.dir, artifact.Content, localstore.Options{})

	for i := 1; i <= 10; i++ {
		_, err := local.Save(artifact.Item{"id": fmt.Sprintf("i%02d", i), "name": fmt.Sprintf("item-%02d", i)},
			localstore.SaveOptions{})
		require.NoError(t, err)
	}

	// Item 4 fails twice with HTTP 500, then succeeds.
	rig.hub.pushFailures["item-04"] = 2

	h := rig.contentHelper(t)

	o := testOptions()
	o.ConcurrentLimit = 3

	before := rig.hub.requests.Load()

	res, err := h.PushAll(context.Background(), rig.session, o)
	require.NoError(t, err)

	assert.Len(t, res.Items, 10)
	assert.Equal(t, 10, rig.events.count(EventPushed))
	assert.Zero(t, rig.session.ErrorCount())

	// 10 pushes + 2 retries.
	assert.Equal(t, int64(12), rig.hub.requests.Load()-before)
	assert.LessOrEqual(t, rig.hub.peakInFlight.Load(), int32(3))
}

func TestPush_RetryExhaustionFails(t *testing.T) {
	rig := newTestRig(t)

	local := localstore.New(rig.dir, artifact.Content, localstore.Options{})

	_, err := local.Save(artifact.Item{"id": "a", "name": "doomed"}, localstore.SaveOptions{})
	require.NoError(t, err)
	_, err = local.Save(artifact.Item{"id": "b", "name": "fine"}, localstore.SaveOptions{})
	require.NoError(t, err)

	// More failures than MaxAttempts allows.
	rig.hub.pushFailures["doomed"] = 10

	h := rig.contentHelper(t)

	res, err := h.PushAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)

	assert.Len(t, res.Items, 1)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, rig.events.count(EventPushedError))

	// MaxAttempts bounds the calls for the doomed item: 3 total.
	rig.hub.mu.Lock()
	remaining := rig.hub.pushFailures["doomed"]
	rig.hub.mu.Unlock()
	assert.Equal(t, 7, remaining)

	// Errors block the push watermark.
	assert.True(t, rig.hashes.LastPushTimestamp("content").IsZero())
}

func TestPush_NonRetriableSemanticError(t *testing.T) {
	rig := newTestRig(t)

	// A fake that rejects with 400 and a non-reference code.
	rig.hub.srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"code":1001,"message":"invalid"}]}`))
	})

	local := localstore.New(rig.dir, artifact.Content, localstore.Options{})

	_, err := local.Save(artifact.Item{"id": "a", "name": "bad"}, localstore.SaveOptions{})
	require.NoError(t, err)

	h := rig.contentHelper(t)

	res, err := h.PushAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, rig.events.count(EventPushedError))
}

func TestPush_ConflictWritesConflictFile(t *testing.T) {
	rig := newTestRig(t)

	serverItem := artifact.Item{"id": "a", "rev": "5", "name": "server-version"}
	rig.hub.add("content", serverItem)

	// Updates conflict; reads still serve the item.
	base := rig.hub.srv.Config.Handler
	rig.hub.srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"conflict"}`))

			return
		}

		base.ServeHTTP(w, r)
	})

	local := localstore.New(rig.dir, artifact.Content, localstore.Options{})

	path, err := local.Save(artifact.Item{"id": "a", "rev": "4", "name": "local-version"}, localstore.SaveOptions{})
	require.NoError(t, err)

	h := rig.contentHelper(t)

	o := testOptions()
	o.SaveFileOnConflict = true

	res, err := h.PushAll(context.Background(), rig.session, o)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, 1, res.Errors)

	conflict, err := local.Read(path + localstore.ConflictSuffix)
	require.NoError(t, err)
	assert.Equal(t, "server-version", conflict.Name())
}

func TestPush_RenamedFileUpdatesHashesPath(t *testing.T) {
	rig := newTestRig(t)

	rig.hub.add("content", artifact.Item{"id": "a", "rev": "1", "name": "item-a"})

	h := rig.contentHelper(t)

	_, err := h.PullAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)

	// The user renames the pulled file, keeping the id inside.
	oldPath := filepath.Join(rig.dir, "content", "a_cmd.json")
	newPath := filepath.Join(rig.dir, "content", "renamed_cmd.json")
	require.NoError(t, os.Rename(oldPath, newPath))

	res, err := h.PushAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	// The tenant map tracks the new path, and only one entry carries it.
	e, ok := rig.hashes.Entry("a")
	require.True(t, ok)
	assert.Equal(t, "content/renamed_cmd.json", e.Path)

	count := 0

	for _, le := range rig.hashes.ListFiles() {
		if le.Entry.Path == "content/renamed_cmd.json" {
			count++
		}
	}

	assert.Equal(t, 1, count)
}

// ---------------------------------------------------------------------------
// Delete

func TestDeleteAll(t *testing.T) {
	rig := newTestRig(t)

	for _, id := range []string{"a", "b", "c"} {
		rig.hub.add("content", artifact.Item{"id": id, "rev": "1"})
	}

	h := rig.contentHelper(t)

	res, err := h.DeleteAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
	assert.Equal(t, 3, rig.events.count(EventDeleted))

	rig.hub.mu.Lock()
	remaining := len(rig.hub.items["content"])
	rig.hub.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestDeleteItem_NotFoundTreatedAsDeleted(t *testing.T) {
	rig := newTestRig(t)
	h := rig.contentHelper(t)

	err := h.DeleteItem(context.Background(), rig.session, testOptions(), artifact.Item{"id": "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 1, rig.events.count(EventDeleted))
	assert.Zero(t, rig.session.ErrorCount())
}

func TestDeleteAll_ReferenceCycleRetries(t *testing.T) {
	rig := newTestRig(t)

	rig.hub.add("content", artifact.Item{"id": "a", "rev": "1"})
	rig.hub.add("content", artifact.Item{"id": "b", "rev": "1"})

	// Each delete fails once with a reference violation: the first pass
	// breaks the links, the retry pass succeeds.
	rig.hub.deleteFailures["a"] = 1
	rig.hub.deleteFailures["b"] = 1

	h := rig.contentHelper(t)

	res, err := h.DeleteAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)

	assert.Len(t, res.Items, 2)
	assert.Equal(t, 2, rig.events.count(EventDeleted))
	assert.Zero(t, rig.session.ErrorCount())
}

func TestDeleteAll_Renditions(t *testing.T) {
	rig := newTestRig(t)

	h, ok := rig.engine.Helper("renditions")
	require.True(t, ok)

	_, err := h.DeleteAll(context.Background(), rig.session, testOptions())
	assert.ErrorIs(t, err, hub.ErrDeleteNotSupported)
}

// ---------------------------------------------------------------------------
// List

func TestListRemote(t *testing.T) {
	rig := newTestRig(t)

	rig.hub.add("content", artifact.Item{"id": "a", "name": "Alpha"})
	rig.hub.add("content", artifact.Item{"id": "b", "name": "Beta"})

	h := rig.contentHelper(t)

	proxies, err := h.ListRemote(context.Background(), rig.session, testOptions())
	require.NoError(t, err)
	assert.Len(t, proxies, 2)
}

func TestListModifiedRemote_IncludesRemoteDeletes(t *testing.T) {
	rig := newTestRig(t)

	rig.hub.add("content", artifact.Item{"id": "a", "rev": "1"})
	rig.hub.add("content", artifact.Item{"id": "b", "rev": "1"})

	h := rig.contentHelper(t)

	_, err := h.PullAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)

	// b vanishes server-side.
	rig.hub.mu.Lock()
	rig.hub.items["content"] = rig.hub.items["content"][:1]
	rig.hub.mu.Unlock()

	proxies, err := h.ListModifiedRemote(context.Background(), rig.session,
		hashes.New|hashes.Modified|hashes.Deleted, testOptions())
	require.NoError(t, err)

	require.Len(t, proxies, 1)
	assert.Equal(t, "b", proxies[0].ID)
}

func TestListModifiedLocal_DeletedFlag(t *testing.T) {
	rig := newTestRig(t)

	rig.hub.add("content", artifact.Item{"id": "a", "rev": "1"})

	h := rig.contentHelper(t)

	_, err := h.PullAll(context.Background(), rig.session, testOptions())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(rig.dir, "content", "a_cmd.json")))

	proxies, err := h.ListModifiedLocal(hashes.New|hashes.Modified|hashes.Deleted, testOptions())
	require.NoError(t, err)

	require.Len(t, proxies, 1)
	assert.Equal(t, "a", proxies[0].ID)
}

// ---------------------------------------------------------------------------
// Manifest scope

func TestPullManifest(t *testing.T) {
	rig := newTestRig(t)

	rig.hub.add("content", artifact.Item{"id": "a", "rev": "1"})
	rig.hub.add("content", artifact.Item{"id": "b", "rev": "1"})

	m := manifestWith(t, "content", artifact.Item{"id": "a"})

	h := rig.contentHelper(t)

	o := testOptions()
	o.Manifest = m

	res, err := h.PullManifest(context.Background(), rig.session, o)
	require.NoError(t, err)

	require.Len(t, res.Items, 1)
	assert.Equal(t, "a", res.Items[0].ID())

	// Only the named artifact was written.
	_, statErr := os.Stat(filepath.Join(rig.dir, "content", "b_cmd.json"))
	assert.True(t, os.IsNotExist(statErr))

	// Scoped flows never advance the watermark.
	assert.True(t, rig.hashes.LastPullTimestamp("content").IsZero())
}
