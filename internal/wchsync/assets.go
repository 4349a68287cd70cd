package wchsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
	"github.com/acoustic-content-samples/wchtools-go/internal/hashes"
	"github.com/acoustic-content-samples/wchtools-go/internal/hub"
	"github.com/acoustic-content-samples/wchtools-go/internal/localstore"
	"github.com/acoustic-content-samples/wchtools-go/internal/pager"
	"github.com/acoustic-content-samples/wchtools-go/internal/retrier"
	"github.com/acoustic-content-samples/wchtools-go/internal/throttle"
)

// ErrPathNotFound is returned by PullByPath when the paged scan exhausts
// the collection without matching the path.
var ErrPathNotFound = errors.New("wchsync: no asset with the given path")

// AssetsHelper specializes the flows for the asset/resource duality:
// streamed uploads and downloads, digest verification, draft renames,
// metadata sidecars, and the split web/content watermarks. Deletes are
// inherited from the generic helper — they carry no streams.
type AssetsHelper struct {
	*Helper

	svc   *hub.AssetsService
	store *localstore.AssetStore
}

// NewAssetsHelper creates the assets helper.
func NewAssetsHelper(svc *hub.AssetsService, store *localstore.AssetStore, hs *hashes.Store, logger *slog.Logger) *AssetsHelper {
	return &AssetsHelper{
		Helper: NewHelper(svc.Service, store.Store, hs, logger),
		svc:    svc,
		store:  store,
	}
}

// ---------------------------------------------------------------------------
// List

// ListLocal returns proxies for the binary files under the assets folder,
// filtered by sub-kind and lifecycle state.
func (h *AssetsHelper) ListLocal(o Options) ([]artifact.Proxy, error) {
	proxies, err := h.store.ListBinaries()
	if err != nil {
		return nil, err
	}

	out := proxies[:0:0]

	for _, p := range proxies {
		if h.keepLocal(p, o) {
			out = append(out, p)
		}
	}

	return out, nil
}

// keepLocal applies the sub-kind and draft filters to a binary proxy.
func (h *AssetsHelper) keepLocal(p artifact.Proxy, o Options) bool {
	virtual := h.store.VirtualPath(h.abs(p.Path))
	isContent := strings.HasPrefix(virtual, artifact.ContentAssetRoot)

	if o.WebAssetsOnly && isContent {
		return false
	}

	if o.ContentAssetsOnly && !isContent {
		return false
	}

	draft := artifact.IsDraftFileName(filepath.Base(p.Path))
	if status, ok := p.Extra["status"].(string); ok {
		draft = status == artifact.StatusDraft
	}

	if o.FilterReady && draft {
		return false
	}

	if o.FilterDraft && !draft {
		return false
	}

	if o.FilterPath != "" && !pathPattern(o.FilterPath).MatchString(virtual) {
		return false
	}

	return true
}

// ListModifiedLocal filters binaries through the hashes predicates. For
// content assets the tracked file is the metadata sidecar and the binary is
// checked as its resource; web assets are checked directly.
func (h *AssetsHelper) ListModifiedLocal(flags hashes.Flags, o Options) ([]artifact.Proxy, error) {
	proxies, err := h.ListLocal(o)
	if err != nil {
		return nil, err
	}

	out := proxies[:0:0]

	for _, p := range proxies {
		binAbs := h.abs(p.Path)
		keyPath, resPath := h.trackedPaths(binAbs)

		if h.hashes.IsLocalModified(flags&(hashes.New|hashes.Modified), keyPath, resPath) {
			out = append(out, p)
		}
	}

	if flags&hashes.Deleted != 0 {
		out = append(out, h.deletedLocal()...)
	}

	return out, nil
}

// trackedPaths returns the hashes key file and resource file for a binary:
// content assets are tracked by their sidecar with the binary as resource,
// web assets by the binary alone.
func (h *AssetsHelper) trackedPaths(binAbs string) (keyPath, resPath string) {
	metaPath := h.store.MetadataPath(binAbs)
	if _, err := os.Stat(metaPath); err == nil {
		return metaPath, binAbs
	}

	return binAbs, ""
}

// ListRemote pages the collection, or the search index when a path pattern
// is given (the assets endpoint has no native path filter).
func (h *AssetsHelper) ListRemote(ctx context.Context, s *Session, o Options) ([]artifact.Proxy, error) {
	if o.FilterPath == "" {
		return h.Helper.ListRemote(ctx, s, o)
	}

	items, err := h.searchRemote(ctx, o)
	if err != nil {
		return nil, err
	}

	proxies := make([]artifact.Proxy, 0, len(items))
	for _, it := range items {
		proxies = append(proxies, artifact.ProxyOf(it))
	}

	if o.OutputManifest != nil {
		o.OutputManifest.Append(h.desc.ServiceName, items)
	}

	return proxies, nil
}

// searchRemote issues the classification search with a path prefix filter
// and applies the wildcard regexp afterward — the index filter is only a
// prefix, the regexp enforces segment semantics.
func (h *AssetsHelper) searchRemote(ctx context.Context, o Options) ([]artifact.Item, error) {
	var isManaged *bool

	if o.ContentAssetsOnly {
		v := true
		isManaged = &v
	} else if o.WebAssetsOnly {
		v := false
		isManaged = &v
	}

	re := pathPattern(o.FilterPath)
	prefix := searchPrefix(o.FilterPath)

	limit := o.Limit
	if limit <= 0 {
		limit = pager.DefaultLimit
	}

	var out []artifact.Item

	for offset := o.Offset; ; offset += limit {
		docs, err := h.svc.Search(ctx, hub.SearchOptions{
			PathPrefix: prefix,
			IsManaged:  isManaged,
			Offset:     offset,
			Limit:      limit,
		})
		if err != nil {
			return nil, err
		}

		for _, it := range docs {
			if !re.MatchString(strings.TrimPrefix(it.Path(), "/")) {
				continue
			}

			if matchesOptions(it, Options{FilterReady: o.FilterReady, FilterDraft: o.FilterDraft}) {
				out = append(out, it)
			}
		}

		if len(docs) < limit {
			return out, nil
		}
	}
}

// ---------------------------------------------------------------------------
// Pull

// PullAll pulls every asset (and, unless disabled, the standalone
// resources).
func (h *AssetsHelper) PullAll(ctx context.Context, s *Session, o Options) (*Result, error) {
	return h.pullAssets(ctx, s, o, false)
}

// PullModified pulls assets modified since the sub-kind watermark.
func (h *AssetsHelper) PullModified(ctx context.Context, s *Session, o Options) (*Result, error) {
	return h.pullAssets(ctx, s, o, true)
}

// PullByPath scans the paged collection linearly until the path matches —
// the assets endpoint does not support get-by-path.
func (h *AssetsHelper) PullByPath(ctx context.Context, s *Session, o Options, virtualPath string) (artifact.Item, error) {
	want := strings.TrimPrefix(virtualPath, "/")

	var found artifact.Item

	err := pager.Each(ctx, pager.Options{Limit: o.Limit},
		func(ctx context.Context, offset, limit int) ([]artifact.Item, error) {
			return h.svc.Items(ctx, offset, limit)
		},
		func(_ context.Context, items []artifact.Item) (pager.ChunkResult, error) {
			for _, it := range items {
				if strings.TrimPrefix(it.Path(), "/") == want {
					found = it

					// A short count stops the pager.
					return pager.ChunkResult{Count: 0}, nil
				}
			}

			return pager.ChunkResult{Count: len(items)}, nil
		})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, virtualPath)
	}

	return h.pullAsset(ctx, s, found)
}

// pullAssets drives the paged pull with per-item streamed downloads.
func (h *AssetsHelper) pullAssets(ctx context.Context, s *Session, o Options, modifiedOnly bool) (*Result, error) {
	h.store.ResetCache()

	sampled := time.Now().UTC()

	var localBefore map[string]artifact.Proxy
	if o.Deletions {
		proxies, err := h.ListLocal(o)
		if err != nil {
			return nil, err
		}

		localBefore = make(map[string]artifact.Proxy, len(proxies))
		for _, p := range proxies {
			localBefore[p.Path] = p
		}
	}

	since := time.Time{}
	if modifiedOnly {
		since = h.assetPullSince(o)
	}

	res := &Result{}
	startErrors := s.ErrorCount()

	err := pager.Each(ctx, pager.Options{Offset: o.Offset, Limit: o.Limit},
		func(ctx context.Context, offset, limit int) ([]artifact.Item, error) {
			if modifiedOnly {
				return h.svc.ModifiedItems(ctx, since, offset, limit)
			}

			return h.svc.Items(ctx, offset, limit)
		},
		func(ctx context.Context, items []artifact.Item) (pager.ChunkResult, error) {
			kept := filterItems(items, o)

			if modifiedOnly {
				filtered := kept[:0:0]
				for _, it := range kept {
					if h.hashes.IsRemoteModified(hashes.New|hashes.Modified, it) {
						filtered = append(filtered, it)
					}
				}

				kept = filtered
			}

			tasks := make([]throttle.Task, 0, len(kept))
			for _, it := range kept {
				item := it
				tasks = append(tasks, func(ctx context.Context) (any, error) {
					return h.pullAsset(ctx, s, item)
				})
			}

			outcomes := throttle.Run(ctx, o.concurrency(h.desc), tasks)

			for i, out := range outcomes {
				if out.Err != nil {
					continue
				}

				pulled, ok := out.Value.(artifact.Item)
				if !ok {
					continue
				}

				res.Items = append(res.Items, pulled)

				if localBefore != nil {
					delete(localBefore, h.store.Rel(h.store.BinaryPath(kept[i])))
				}
			}

			return pager.ChunkResult{Count: len(items)}, nil
		})
	if err != nil {
		res.Errors = s.ErrorCount() - startErrors

		return res, err
	}

	if !o.DisableResources {
		h.pullResources(ctx, s, o, localBefore != nil)
	}

	res.Errors = s.ErrorCount() - startErrors

	h.appendOutput(o, res.Items)

	if o.Deletions {
		h.reconcileLocalOnly(s, o, localBefore)
	}

	if !h.assetFiltered(o) && res.Errors == 0 {
		h.advancePullWatermark(o, sampled)
	}

	return res, nil
}

// pullAsset streams one asset's binary to disk, verifying the server
// digest, and writes the metadata sidecar for content assets.
func (h *AssetsHelper) pullAsset(ctx context.Context, s *Session, item artifact.Item) (artifact.Item, error) {
	binPath := h.store.BinaryPath(item)

	digest, _, err := localstore.SaveVerified(binPath, item.Digest(), func(w io.Writer) error {
		_, _, pullErr := h.svc.PullResource(ctx, item.Resource(), w)

		return pullErr
	})
	if err != nil {
		// A digest mismatch is a hard error: hashes stay untouched and
		// the partial file is left on disk for inspection.
		s.Emit(Event{Name: EventPulledError, Service: h.desc.ServiceName, ID: item.ID(), Err: err})
		s.AddError()

		return nil, err
	}

	keyPath := binPath

	if item.IsContentAsset() {
		metaRel := h.store.Rel(h.store.MetadataPath(binPath))

		metaPath, saveErr := h.store.Save(item, localstore.SaveOptions{Path: metaRel})
		if saveErr != nil {
			s.Emit(Event{Name: EventPulledError, Service: h.desc.ServiceName, ID: item.ID(), Err: saveErr})
			s.AddError()

			return nil, saveErr
		}

		keyPath = metaPath
	}

	if err := h.hashes.Update(item.ID(), keyPath, item, binPath, digest); err != nil {
		s.Emit(Event{Name: EventPulledError, Service: h.desc.ServiceName, ID: item.ID(), Err: err})
		s.AddError()

		return nil, err
	}

	s.Emit(Event{Name: EventPulled, Service: h.desc.ServiceName, Item: item, Path: h.store.Rel(binPath)})

	return item, nil
}

// ---------------------------------------------------------------------------
// Push

// PushAll pushes every local asset, ready batch before draft batch.
func (h *AssetsHelper) PushAll(ctx context.Context, s *Session, o Options) (*Result, error) {
	proxies, err := h.assetPushScope(0, o)
	if err != nil {
		return nil, err
	}

	return h.pushAssets(ctx, s, o, proxies)
}

// PushModified pushes local assets that are new or changed.
func (h *AssetsHelper) PushModified(ctx context.Context, s *Session, o Options) (*Result, error) {
	proxies, err := h.assetPushScope(hashes.New|hashes.Modified, o)
	if err != nil {
		return nil, err
	}

	return h.pushAssets(ctx, s, o, proxies)
}

// PushItem pushes one asset binary by its working-directory-relative path.
func (h *AssetsHelper) PushItem(ctx context.Context, s *Session, o Options, relPath string) (artifact.Item, error) {
	h.store.ResetCache()

	ctrl := retrier.New(o.Retry)

	item, err := h.pushAssetPath(ctx, s, o, ctrl, relPath)
	if err == nil {
		return item, nil
	}

	if pushed := h.retryAssetPushes(ctx, s, o, ctrl, true); len(pushed) > 0 {
		return pushed[0], nil
	}

	return nil, err
}

// assetPushScope resolves the binaries to push.
func (h *AssetsHelper) assetPushScope(flags hashes.Flags, o Options) ([]artifact.Proxy, error) {
	if o.Manifest != nil {
		names := o.Manifest.Names(h.desc.ServiceName)

		out := make([]artifact.Proxy, 0, len(names))

		for _, p := range names {
			if p.Path == "" {
				continue
			}

			bin := h.store.Rel(h.store.BinaryPath(artifact.Item{"path": p.Path}))
			out = append(out, artifact.Proxy{ID: p.ID, Name: p.Name, Path: bin})
		}

		return out, nil
	}

	if flags != 0 {
		return h.ListModifiedLocal(flags, o)
	}

	return h.ListLocal(o)
}

// pushAssets pushes the ready batch to completion (retries included)
// before the draft batch begins — drafts depend on their ready
// counterparts existing server-side.
func (h *AssetsHelper) pushAssets(ctx context.Context, s *Session, o Options, proxies []artifact.Proxy) (*Result, error) {
	h.store.ResetCache()

	startErrors := s.ErrorCount()
	ctrl := retrier.New(o.Retry)

	var ready, draft []artifact.Proxy

	for _, p := range proxies {
		isDraft := artifact.IsDraftFileName(filepath.Base(p.Path))
		if status, ok := p.Extra["status"].(string); ok {
			isDraft = status == artifact.StatusDraft
		}

		if isDraft {
			draft = append(draft, p)
		} else {
			ready = append(ready, p)
		}
	}

	var pushed []artifact.Item

	for _, batch := range [][]artifact.Proxy{ready, draft} {
		if len(batch) == 0 {
			continue
		}

		batchPushed := h.pushAssetBatch(ctx, s, o, ctrl, batch)
		batchPushed = append(batchPushed, h.retryAssetPushes(ctx, s, o, ctrl, len(batchPushed) > 0)...)
		pushed = append(pushed, batchPushed...)
	}

	if !o.DisableResources {
		h.pushResources(ctx, s, o)
	}

	res := &Result{Items: pushed, Errors: s.ErrorCount() - startErrors}

	h.appendOutput(o, res.Items)

	if !h.assetFiltered(o) && res.Errors == 0 {
		h.advancePushWatermark(o, time.Now().UTC())
	}

	return res, nil
}

// pushAssetBatch throttles one pass of streamed uploads.
func (h *AssetsHelper) pushAssetBatch(ctx context.Context, s *Session, o Options, ctrl *retrier.Controller, proxies []artifact.Proxy) []artifact.Item {
	tasks := make([]throttle.Task, 0, len(proxies))

	for _, p := range proxies {
		relPath := p.Path
		tasks = append(tasks, func(ctx context.Context) (any, error) {
			return h.pushAssetPath(ctx, s, o, ctrl, relPath)
		})
	}

	outcomes := throttle.Run(ctx, o.concurrency(h.desc), tasks)

	var pushed []artifact.Item

	for _, out := range outcomes {
		if out.Err == nil {
			if item, ok := out.Value.(artifact.Item); ok && item != nil {
				pushed = append(pushed, item)
			}
		}
	}

	return pushed
}

// retryAssetPushes mirrors the generic retry passes with the asset push.
func (h *AssetsHelper) retryAssetPushes(ctx context.Context, s *Session, o Options, ctrl *retrier.Controller, batchProgressed bool) []artifact.Item {
	var pushed []artifact.Item

	for {
		retries := s.TakeRetryPush()
		if len(retries) == 0 {
			return pushed
		}

		if !batchProgressed {
			for _, r := range retries {
				h.failPush(s, r.Path, r.Err)
			}

			return pushed
		}

		h.logger.Info("retrying failed asset pushes",
			slog.Int("count", len(retries)),
		)

		tasks := make([]throttle.Task, 0, len(retries))

		for _, r := range retries {
			retry := r
			tasks = append(tasks, func(ctx context.Context) (any, error) {
				if err := retrier.Wait(ctx, retry.Delay); err != nil {
					return nil, err
				}

				return h.pushAssetPath(ctx, s, o, ctrl, retry.Path)
			})
		}

		for _, out := range throttle.Run(ctx, o.concurrency(h.desc), tasks) {
			if out.Err == nil {
				if item, ok := out.Value.(artifact.Item); ok && item != nil {
					pushed = append(pushed, item)
				}
			}
		}

		batchProgressed = true
	}
}

// pushAssetPath uploads one binary: resource identity from the stored MD5,
// replace decision from the MD5 delta, streamed POST, optional metadata
// writeback, and hashes bookkeeping. On a retriable failure the item is
// queued on the retry list and the stream is closed by the scoped defer when
// this call returns, before any retry pass reopens it.
func (h *AssetsHelper) pushAssetPath(ctx context.Context, s *Session, o Options, ctrl *retrier.Controller, relPath string) (artifact.Item, error) {
	binAbs := h.abs(relPath)
	virtual := h.store.VirtualPath(binAbs)
	isContent := strings.HasPrefix(virtual, artifact.ContentAssetRoot)

	hexMD5, b64MD5, err := localstore.FileMD5Sums(binAbs)
	if err != nil {
		h.failPush(s, relPath, err)

		return nil, err
	}

	// Reuse the metadata sidecar's resource id when one exists; otherwise
	// derive the id from content and path.
	var meta artifact.Item

	if isContent {
		if m, readErr := h.store.Read(h.store.MetadataPath(binAbs)); readErr == nil {
			meta = m
		}
	}

	resourceID := localstore.ResourceID(hexMD5, virtual)
	if meta != nil && meta.Resource() != "" {
		resourceID = meta.Resource()
	}

	// A stored MD5 differing from the current content tells the server to
	// mint a new resource behind the persisting metadata item.
	storedMD5 := h.hashes.ResourceMD5(binAbs)
	replace := storedMD5 != "" && storedMD5 != b64MD5

	f, err := os.Open(binAbs)
	if err != nil {
		h.failPush(s, relPath, err)

		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.failPush(s, relPath, err)

		return nil, err
	}

	pushed, err := h.svc.PushAsset(ctx, hub.PushAssetOptions{
		ReplaceResource: replace,
		ResourceID:      resourceID,
		ResourceMD5:     b64MD5,
		Path:            "/" + virtual,
		Length:          info.Size(),
	}, f)
	if err != nil {
		return nil, h.handlePushError(s, o, ctrl, relPath, meta, err)
	}

	keyPath := binAbs

	if isContent {
		metaRel := h.store.Rel(h.store.MetadataPath(binAbs))

		if o.RewriteOnPush {
			if p, saveErr := h.store.Save(pushed, localstore.SaveOptions{Path: metaRel}); saveErr == nil {
				keyPath = p
			}
		} else if _, statErr := os.Stat(h.store.MetadataPath(binAbs)); statErr == nil {
			keyPath = h.store.MetadataPath(binAbs)
		}
	}

	if err := h.hashes.Update(pushed.ID(), keyPath, pushed, binAbs, b64MD5); err != nil {
		h.logger.Warn("hashes update failed after asset push",
			slog.String("path", relPath),
			slog.String("error", err.Error()),
		)
	}

	s.Emit(Event{Name: EventPushed, Service: h.desc.ServiceName, Item: pushed, Path: relPath})
	ctrl.Clear(relPath)

	return pushed, nil
}

// ---------------------------------------------------------------------------
// Resources step

// pullResources fetches resources present on the server but absent
// locally: binaries not referenced by any pulled asset still deserve a
// local copy under resources/.
func (h *AssetsHelper) pullResources(ctx context.Context, s *Session, o Options, reconcile bool) {
	rs := h.store.Resources()

	limit := o.Limit
	if limit <= 0 {
		limit = pager.DefaultLimit
	}

	remoteIDs := make(map[string]struct{})

	for offset := 0; ; offset += limit {
		refs, err := h.svc.Resources(ctx, offset, limit)
		if err != nil {
			s.Emit(Event{Name: EventResourcePulledError, Service: h.desc.ServiceName, Err: err})
			s.AddError()

			return
		}

		tasks := make([]throttle.Task, 0, len(refs))

		for _, ref := range refs {
			remoteIDs[ref.ID] = struct{}{}

			if rs.FindPath(ref.ID) != "" || h.hashes.PathForResource(ref.ID) != "" {
				continue
			}

			ref := ref
			tasks = append(tasks, func(ctx context.Context) (any, error) {
				return nil, h.pullResource(ctx, s, ref)
			})
		}

		throttle.Run(ctx, o.concurrency(h.desc), tasks)

		if len(refs) < limit {
			break
		}
	}

	if reconcile {
		h.reconcileResources(s, remoteIDs)
	}
}

// pullResource streams one standalone resource into the content-addressed
// tree.
func (h *AssetsHelper) pullResource(ctx context.Context, s *Session, ref hub.ResourceRef) error {
	rs := h.store.Resources()

	// The server-supplied disposition filename names the file on disk;
	// fall back to the resource name, then the id.
	pr, pw := io.Pipe()

	type pullResult struct {
		filename string
		err      error
	}

	done := make(chan pullResult, 1)

	go func() {
		filename, _, err := h.svc.PullResource(ctx, ref.ID, pw)
		pw.CloseWithError(err)
		done <- pullResult{filename: filename, err: err}
	}()

	// Buffer the stream so the filename (from response headers) is known
	// before the destination path must be chosen. Resources are written
	// to a temp file first for exactly this reason.
	tmp, err := os.CreateTemp(rs.Dir(), "resource-*.partial")
	if err != nil {
		if mkErr := os.MkdirAll(rs.Dir(), 0o755); mkErr == nil {
			tmp, err = os.CreateTemp(rs.Dir(), "resource-*.partial")
		}

		if err != nil {
			pr.CloseWithError(err)
			<-done

			return h.failResourcePull(s, ref.ID, err)
		}
	}

	tmpName := tmp.Name()

	_, copyErr := io.Copy(tmp, pr)
	tmp.Close()

	res := <-done

	if res.err != nil || copyErr != nil {
		os.Remove(tmpName)

		err := res.err
		if err == nil {
			err = copyErr
		}

		return h.failResourcePull(s, ref.ID, err)
	}

	filename := res.filename
	if filename == "" {
		filename = ref.Name
	}

	if filename == "" {
		filename = ref.ID
	}

	src, err := os.Open(tmpName)
	if err != nil {
		return h.failResourcePull(s, ref.ID, err)
	}

	_, saveErr := rs.Save(ref.ID, filename, src, "")
	src.Close()
	os.Remove(tmpName)

	if saveErr != nil {
		return h.failResourcePull(s, ref.ID, saveErr)
	}

	s.Emit(Event{Name: EventResourcePulled, Service: h.desc.ServiceName, ID: ref.ID})

	return nil
}

func (h *AssetsHelper) failResourcePull(s *Session, id string, err error) error {
	s.Emit(Event{Name: EventResourcePulledError, Service: h.desc.ServiceName, ID: id, Err: err})
	s.AddError()

	return err
}

// reconcileResources emits resource-local-only events for resource
// directories with no server counterpart.
func (h *AssetsHelper) reconcileResources(s *Session, remoteIDs map[string]struct{}) {
	rs := h.store.Resources()

	shards, err := os.ReadDir(rs.Dir())
	if err != nil {
		return
	}

	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}

		ids, err := os.ReadDir(filepath.Join(rs.Dir(), shard.Name()))
		if err != nil {
			continue
		}

		for _, idDir := range ids {
			if !idDir.IsDir() {
				continue
			}

			if _, ok := remoteIDs[idDir.Name()]; !ok {
				s.Emit(Event{Name: EventResourceLocalOnly, Service: h.desc.ServiceName, ID: idDir.Name()})
			}
		}
	}
}

// pushResources uploads resource binaries that exist under resources/ but
// are not tracked as any asset's resource — orphans restored from another
// working directory.
func (h *AssetsHelper) pushResources(ctx context.Context, s *Session, o Options) {
	rs := h.store.Resources()

	shards, err := os.ReadDir(rs.Dir())
	if err != nil {
		return
	}

	var tasks []throttle.Task

	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}

		ids, err := os.ReadDir(filepath.Join(rs.Dir(), shard.Name()))
		if err != nil {
			continue
		}

		for _, idDir := range ids {
			if !idDir.IsDir() {
				continue
			}

			id := idDir.Name()

			if h.hashes.PathForResource(id) != "" {
				continue
			}

			binPath := rs.FindPath(id)
			if binPath == "" {
				continue
			}

			tasks = append(tasks, func(ctx context.Context) (any, error) {
				return nil, h.pushResource(ctx, s, id, binPath)
			})
		}
	}

	throttle.Run(ctx, o.concurrency(h.desc), tasks)
}

// pushResource streams one orphaned resource binary to the hub.
func (h *AssetsHelper) pushResource(ctx context.Context, s *Session, id, binPath string) error {
	_, b64MD5, err := localstore.FileMD5Sums(binPath)
	if err != nil {
		return h.failResourcePush(s, id, err)
	}

	f, err := os.Open(binPath)
	if err != nil {
		return h.failResourcePush(s, id, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return h.failResourcePush(s, id, err)
	}

	_, err = h.svc.PushAsset(ctx, hub.PushAssetOptions{
		IsResource:  true,
		ResourceID:  id,
		ResourceMD5: b64MD5,
		Path:        filepath.Base(binPath),
		Length:      info.Size(),
	}, f)
	if err != nil {
		return h.failResourcePush(s, id, err)
	}

	s.Emit(Event{Name: EventResourcePushed, Service: h.desc.ServiceName, ID: id})

	return nil
}

func (h *AssetsHelper) failResourcePush(s *Session, id string, err error) error {
	s.Emit(Event{Name: EventResourcePushedError, Service: h.desc.ServiceName, ID: id, Err: err})
	s.AddError()

	return err
}

// ---------------------------------------------------------------------------
// Watermarks

// assetFiltered mirrors Options.filtered but treats the sub-kind
// restriction as unfiltered — the split watermark exists precisely so one
// sub-kind's pull can complete on its own.
func (h *AssetsHelper) assetFiltered(o Options) bool {
	return o.FilterReady || o.FilterDraft || o.FilterPath != "" || o.Manifest != nil
}

// assetPullSince resolves the modified-since instant for the requested
// sub-kinds: the web or content watermark alone, or the earlier of the two.
func (h *AssetsHelper) assetPullSince(o Options) time.Time {
	ts := h.hashes.LastPullTimestamp(h.desc.ServiceName)

	switch {
	case o.WebAssetsOnly:
		return parseWatermark(ts.ForWebAssets())
	case o.ContentAssetsOnly:
		return parseWatermark(ts.ForContentAssets())
	default:
		web := parseWatermark(ts.ForWebAssets())
		content := parseWatermark(ts.ForContentAssets())

		if web.IsZero() || content.IsZero() {
			return time.Time{}
		}

		if web.Before(content) {
			return web
		}

		return content
	}
}

func parseWatermark(v string) time.Time {
	if v == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}

	return t
}

// advancePullWatermark moves only the pulled sub-kinds, preserving the
// other one.
func (h *AssetsHelper) advancePullWatermark(o Options, sampled time.Time) {
	ts := h.hashes.LastPullTimestamp(h.desc.ServiceName)
	stamp := sampled.Format(time.RFC3339)

	next := hashes.Timestamp{
		WebAssets:     ts.ForWebAssets(),
		ContentAssets: ts.ForContentAssets(),
	}

	if !o.ContentAssetsOnly {
		next.WebAssets = stamp
	}

	if !o.WebAssetsOnly {
		next.ContentAssets = stamp
	}

	if err := h.hashes.SetLastPullTimestamp(h.desc.ServiceName, next); err != nil {
		h.logger.Warn("could not advance pull watermark",
			slog.String("error", err.Error()),
		)
	}
}

// advancePushWatermark mirrors advancePullWatermark for pushes.
func (h *AssetsHelper) advancePushWatermark(o Options, sampled time.Time) {
	ts := h.hashes.LastPushTimestamp(h.desc.ServiceName)
	stamp := sampled.Format(time.RFC3339)

	next := hashes.Timestamp{
		WebAssets:     ts.ForWebAssets(),
		ContentAssets: ts.ForContentAssets(),
	}

	if !o.ContentAssetsOnly {
		next.WebAssets = stamp
	}

	if !o.WebAssetsOnly {
		next.ContentAssets = stamp
	}

	if err := h.hashes.SetLastPushTimestamp(h.desc.ServiceName, next); err != nil {
		h.logger.Warn("could not advance push watermark",
			slog.String("error", err.Error()),
		)
	}
}

// DeleteLocal removes an asset's three on-disk facets (binary, sidecar,
// resource) and its hashes entries. Callers invoke this on local-only
// events when they opt into local deletion; the engine's pull flows never
// call it themselves.
func (h *AssetsHelper) DeleteLocal(relPath string) error {
	binAbs := h.abs(relPath)

	resourceID := ""
	if meta, err := h.store.Read(h.store.MetadataPath(binAbs)); err == nil {
		resourceID = meta.Resource()
	}

	if err := h.store.DeleteAsset(binAbs, resourceID); err != nil {
		return err
	}

	if err := h.hashes.RemoveByPath(binAbs); err != nil {
		return err
	}

	if resourceID != "" {
		return h.hashes.Remove(resourceID)
	}

	return nil
}
