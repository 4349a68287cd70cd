package wchsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
	"github.com/acoustic-content-samples/wchtools-go/internal/hashes"
	"github.com/acoustic-content-samples/wchtools-go/internal/hub"
	"github.com/acoustic-content-samples/wchtools-go/internal/localstore"
	"github.com/acoustic-content-samples/wchtools-go/internal/pager"
	"github.com/acoustic-content-samples/wchtools-go/internal/retrier"
	"github.com/acoustic-content-samples/wchtools-go/internal/throttle"
)

// errSkipped marks items excluded by a filter inside a throttled task; they
// count as neither success nor failure.
var errSkipped = errors.New("wchsync: item skipped by filter")

// Result summarizes one flow invocation. Errors is the count of items that
// failed terminally; per-item detail arrives through events.
type Result struct {
	Items  []artifact.Item
	Errors int
}

// Helper drives the list/pull/push/delete flows for one artifact type.
// The assets helper specializes the streamed parts; everything else shares
// this implementation.
type Helper struct {
	desc   artifact.Descriptor
	remote *hub.Service
	local  *localstore.Store
	hashes *hashes.Store
	logger *slog.Logger
}

// NewHelper creates a helper for one artifact type.
func NewHelper(remote *hub.Service, local *localstore.Store, hs *hashes.Store, logger *slog.Logger) *Helper {
	if logger == nil {
		logger = slog.Default()
	}

	return &Helper{
		desc:   remote.Descriptor(),
		remote: remote,
		local:  local,
		hashes: hs,
		logger: logger.With(slog.String("service", remote.Descriptor().ServiceName)),
	}
}

// Descriptor returns the artifact type served by this helper.
func (h *Helper) Descriptor() artifact.Descriptor { return h.desc }

// LocalStore exposes the backing store (CLI listings, tests).
func (h *Helper) LocalStore() *localstore.Store { return h.local }

// abs resolves a working-directory-relative path.
func (h *Helper) abs(rel string) string {
	return filepath.Join(h.local.WorkingDir(), filepath.FromSlash(rel))
}

// ---------------------------------------------------------------------------
// List

// ListLocal returns proxies for every artifact file in the type's folder.
func (h *Helper) ListLocal(o Options) ([]artifact.Proxy, error) {
	return h.local.ListNames(localstore.ListOptions{AdditionalProperties: []string{"status"}})
}

// ListModifiedLocal filters local files through the hashes predicates and,
// when the Deleted flag is set, appends proxies for tracked files that no
// longer exist on disk.
func (h *Helper) ListModifiedLocal(flags hashes.Flags, o Options) ([]artifact.Proxy, error) {
	proxies, err := h.ListLocal(o)
	if err != nil {
		return nil, err
	}

	out := proxies[:0:0]

	for _, p := range proxies {
		if h.hashes.IsLocalModified(flags&(hashes.New|hashes.Modified), h.abs(p.Path), "") {
			out = append(out, p)
		}
	}

	if flags&hashes.Deleted != 0 {
		out = append(out, h.deletedLocal()...)
	}

	return out, nil
}

// deletedLocal returns proxies for tracked entries whose files vanished.
func (h *Helper) deletedLocal() []artifact.Proxy {
	var out []artifact.Proxy

	folder := h.desc.FolderName + "/"

	for _, le := range h.hashes.ListFiles() {
		if le.Entry.Path == "" || !pathInFolder(le.Entry.Path, folder) {
			continue
		}

		if _, err := os.Stat(h.abs(le.Entry.Path)); os.IsNotExist(err) {
			out = append(out, artifact.Proxy{ID: le.ID, Path: le.Entry.Path})
		}
	}

	return out
}

func pathInFolder(relPath, folder string) bool {
	return len(relPath) > len(folder) && relPath[:len(folder)] == folder
}

// ListRemote pages through the whole collection and returns filtered
// proxies. With an output manifest, the filtered list is appended after the
// walk completes.
func (h *Helper) ListRemote(ctx context.Context, s *Session, o Options) ([]artifact.Proxy, error) {
	var proxies []artifact.Proxy
	var listed []artifact.Item

	err := pager.Each(ctx, pager.Options{Offset: o.Offset, Limit: o.Limit},
		func(ctx context.Context, offset, limit int) ([]artifact.Item, error) {
			return h.remote.Items(ctx, offset, limit)
		},
		func(_ context.Context, items []artifact.Item) (pager.ChunkResult, error) {
			for _, it := range filterItems(items, o) {
				proxies = append(proxies, artifact.ProxyOf(it))
				listed = append(listed, it)
			}

			return pager.ChunkResult{Count: len(items)}, nil
		})
	if err != nil {
		return nil, err
	}

	if o.OutputManifest != nil {
		o.OutputManifest.Append(h.desc.ServiceName, listed)
	}

	return proxies, nil
}

// ListModifiedRemote pages the modified-since view, filters per item
// through the hashes predicate, and (with the Deleted flag) appends proxies
// for ids known locally but gone from the server.
func (h *Helper) ListModifiedRemote(ctx context.Context, s *Session, flags hashes.Flags, o Options) ([]artifact.Proxy, error) {
	since := h.pullSince()

	var proxies []artifact.Proxy

	err := pager.Each(ctx, pager.Options{Offset: o.Offset, Limit: o.Limit},
		func(ctx context.Context, offset, limit int) ([]artifact.Item, error) {
			return h.remote.ModifiedItems(ctx, since, offset, limit)
		},
		func(_ context.Context, items []artifact.Item) (pager.ChunkResult, error) {
			for _, it := range filterItems(items, o) {
				if h.hashes.IsRemoteModified(flags&(hashes.New|hashes.Modified), it) {
					proxies = append(proxies, artifact.ProxyOf(it))
				}
			}

			return pager.ChunkResult{Count: len(items)}, nil
		})
	if err != nil {
		return nil, err
	}

	if flags&hashes.Deleted != 0 {
		deleted, delErr := h.remoteDeleted(ctx)
		if delErr != nil {
			return nil, delErr
		}

		proxies = append(proxies, deleted...)
	}

	return proxies, nil
}

// remoteDeleted computes local-known minus currently-remote.
func (h *Helper) remoteDeleted(ctx context.Context) ([]artifact.Proxy, error) {
	remoteIDs := make(map[string]struct{})

	err := pager.Each(ctx, pager.Options{},
		func(ctx context.Context, offset, limit int) ([]artifact.Item, error) {
			return h.remote.Items(ctx, offset, limit)
		},
		func(_ context.Context, items []artifact.Item) (pager.ChunkResult, error) {
			for _, it := range items {
				remoteIDs[it.ID()] = struct{}{}
			}

			return pager.ChunkResult{Count: len(items)}, nil
		})
	if err != nil {
		return nil, err
	}

	var out []artifact.Proxy

	folder := h.desc.FolderName + "/"

	for _, le := range h.hashes.ListFiles() {
		if !pathInFolder(le.Entry.Path, folder) {
			continue
		}

		if _, ok := remoteIDs[le.ID]; !ok {
			out = append(out, artifact.Proxy{ID: le.ID, Path: le.Entry.Path})
		}
	}

	return out, nil
}

// pullSince parses the stored pull watermark for modified-since queries.
func (h *Helper) pullSince() time.Time {
	ts := h.hashes.LastPullTimestamp(h.desc.ServiceName).Single()
	if ts == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}
	}

	return t
}

// ---------------------------------------------------------------------------
// Pull

// PullAll pulls the whole collection.
func (h *Helper) PullAll(ctx context.Context, s *Session, o Options) (*Result, error) {
	return h.pull(ctx, s, o, false)
}

// PullModified pulls items modified on the server since the last pull.
func (h *Helper) PullModified(ctx context.Context, s *Session, o Options) (*Result, error) {
	return h.pull(ctx, s, o, true)
}

// PullManifest pulls the items named by the input manifest.
func (h *Helper) PullManifest(ctx context.Context, s *Session, o Options) (*Result, error) {
	if o.Manifest == nil {
		return nil, fmt.Errorf("wchsync: %s: pull by manifest without a manifest", h.desc.ServiceName)
	}

	res := &Result{}
	idMap, err := h.local.IDMap()
	if err != nil {
		return nil, err
	}

	names := o.Manifest.Names(h.desc.ServiceName)
	tasks := make([]throttle.Task, 0, len(names))

	startErrors := s.ErrorCount()

	for _, p := range names {
		id := p.ID
		tasks = append(tasks, func(ctx context.Context) (any, error) {
			item, err := h.remote.Item(ctx, id)
			if err != nil {
				s.Emit(Event{Name: EventPulledError, Service: h.desc.ServiceName, ID: id, Err: err})
				s.AddError()

				return nil, err
			}

			return h.pullItem(ctx, s, o, item, idMap)
		})
	}

	for _, out := range throttle.Run(ctx, o.concurrency(h.desc), tasks) {
		if out.Err == nil {
			if item, ok := out.Value.(artifact.Item); ok {
				res.Items = append(res.Items, item)
			}
		}
	}

	res.Errors = s.ErrorCount() - startErrors

	h.appendOutput(o, res.Items)

	return res, nil
}

// PullItem pulls one artifact by id.
func (h *Helper) PullItem(ctx context.Context, s *Session, o Options, id string) (artifact.Item, error) {
	item, err := h.remote.Item(ctx, id)
	if err != nil {
		s.Emit(Event{Name: EventPulledError, Service: h.desc.ServiceName, ID: id, Err: err})
		s.AddError()

		return nil, err
	}

	idMap, err := h.local.IDMap()
	if err != nil {
		return nil, err
	}

	return h.pullItem(ctx, s, o, item, idMap)
}

// pull drives the paged pull flow shared by PullAll and PullModified.
func (h *Helper) pull(ctx context.Context, s *Session, o Options, modifiedOnly bool) (*Result, error) {
	h.local.ResetCache()

	// Sampled before the first server call so items created during the
	// pull are not missed by the next modified-since query.
	sampled := time.Now().UTC()

	var localBefore map[string]artifact.Proxy
	if o.Deletions {
		var err error

		localBefore, err = h.localPathIndex(o)
		if err != nil {
			return nil, err
		}
	}

	idMap, err := h.local.IDMap()
	if err != nil {
		return nil, err
	}

	since := time.Time{}
	if modifiedOnly {
		since = h.pullSince()
	}

	res := &Result{}
	startErrors := s.ErrorCount()

	err = pager.Each(ctx, pager.Options{Offset: o.Offset, Limit: o.Limit},
		func(ctx context.Context, offset, limit int) ([]artifact.Item, error) {
			if modifiedOnly {
				return h.remote.ModifiedItems(ctx, since, offset, limit)
			}

			return h.remote.Items(ctx, offset, limit)
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
					return h.pullItem(ctx, s, o, item, idMap)
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
					delete(localBefore, h.local.Rel(h.local.ItemPath(kept[i])))
				}
			}

			return pager.ChunkResult{Count: len(items)}, nil
		})
	if err != nil {
		res.Errors = s.ErrorCount() - startErrors

		return res, err
	}

	res.Errors = s.ErrorCount() - startErrors

	h.appendOutput(o, res.Items)

	if o.Deletions {
		h.reconcileLocalOnly(s, o, localBefore)
	}

	// The watermark only advances when the pull saw the whole collection
	// and committed every item.
	if !o.filtered() && res.Errors == 0 {
		if err := h.hashes.SetLastPullTimestamp(h.desc.ServiceName,
			hashes.Timestamp{Value: sampled.Format(time.RFC3339)}); err != nil {
			return res, err
		}
	}

	return res, nil
}

// pullItem writes one artifact to disk and updates hashes, emitting the
// pulled / pulled-error event.
func (h *Helper) pullItem(_ context.Context, s *Session, o Options, item artifact.Item, idMap map[string][]string) (artifact.Item, error) {
	path, err := h.local.Save(item, localstore.SaveOptions{IDMap: idMap})
	if err == nil {
		err = h.hashes.Update(item.ID(), path, item, "", "")
	}

	if err != nil {
		s.Emit(Event{Name: EventPulledError, Service: h.desc.ServiceName, ID: item.ID(), Err: err})
		s.AddError()

		return nil, err
	}

	s.Emit(Event{Name: EventPulled, Service: h.desc.ServiceName, Item: item, Path: h.local.Rel(path)})

	return item, nil
}

// localPathIndex snapshots the local paths before a pull, keyed by
// working-directory-relative path.
func (h *Helper) localPathIndex(o Options) (map[string]artifact.Proxy, error) {
	proxies, err := h.ListLocal(o)
	if err != nil {
		return nil, err
	}

	out := make(map[string]artifact.Proxy, len(proxies))
	for _, p := range proxies {
		out[p.Path] = p
	}

	return out, nil
}

// reconcileLocalOnly emits local-only events for paths present locally
// before the pull but absent from the server. The engine never deletes
// local files itself.
func (h *Helper) reconcileLocalOnly(s *Session, o Options, leftover map[string]artifact.Proxy) {
	var proxies []artifact.Proxy

	for _, p := range leftover {
		proxies = append(proxies, p)
		s.Emit(Event{Name: EventLocalOnly, Service: h.desc.ServiceName, ID: p.ID, Path: p.Path})
	}

	if o.DeletionsManifest != nil && len(proxies) > 0 {
		o.DeletionsManifest.AppendProxies(h.desc.ServiceName, proxies)
	}
}

// appendOutput records successes into the output manifest.
func (h *Helper) appendOutput(o Options, items []artifact.Item) {
	if o.OutputManifest != nil && len(items) > 0 {
		o.OutputManifest.Append(h.desc.ServiceName, items)
	}
}

// ---------------------------------------------------------------------------
// Push

// PushAll pushes every local artifact file.
func (h *Helper) PushAll(ctx context.Context, s *Session, o Options) (*Result, error) {
	proxies, err := h.pushScope(hashes.Flags(0), o)
	if err != nil {
		return nil, err
	}

	return h.push(ctx, s, o, proxies)
}

// PushModified pushes local files that are new or changed since the last
// sync.
func (h *Helper) PushModified(ctx context.Context, s *Session, o Options) (*Result, error) {
	proxies, err := h.pushScope(hashes.New|hashes.Modified, o)
	if err != nil {
		return nil, err
	}

	return h.push(ctx, s, o, proxies)
}

// PushItem pushes one artifact file by its working-directory-relative path.
func (h *Helper) PushItem(ctx context.Context, s *Session, o Options, relPath string) (artifact.Item, error) {
	h.local.ResetCache()

	ctrl := retrier.New(o.Retry)

	item, err := h.pushPath(ctx, s, o, ctrl, relPath)
	if err == nil {
		return item, nil
	}

	// A lone item has no batch to make progress for it; retry on the
	// strength of its own backoff schedule.
	if pushed := h.retryPushes(ctx, s, o, ctrl, true); len(pushed) > 0 {
		return pushed[0], nil
	}

	return nil, err
}

// pushScope resolves the list of paths to push: manifest names, modified
// files, or every local file.
func (h *Helper) pushScope(flags hashes.Flags, o Options) ([]artifact.Proxy, error) {
	if o.Manifest != nil {
		names := o.Manifest.Names(h.desc.ServiceName)

		// Manifest entries reference ids; resolve to local paths.
		idMap, err := h.local.IDMap()
		if err != nil {
			return nil, err
		}

		out := make([]artifact.Proxy, 0, len(names))

		for _, p := range names {
			if paths := idMap[p.ID]; len(paths) > 0 {
				p.Path = h.local.Rel(paths[0])
				out = append(out, p)
			}
		}

		return out, nil
	}

	if flags != 0 {
		return h.ListModifiedLocal(flags, o)
	}

	return h.ListLocal(o)
}

// push drives the throttled batch plus the retry passes.
func (h *Helper) push(ctx context.Context, s *Session, o Options, proxies []artifact.Proxy) (*Result, error) {
	h.local.ResetCache()

	startErrors := s.ErrorCount()
	ctrl := retrier.New(o.Retry)

	pushed := h.pushBatch(ctx, s, o, ctrl, proxies)

	pushed = append(pushed, h.retryPushes(ctx, s, o, ctrl, len(pushed) > 0)...)

	res := &Result{Items: pushed, Errors: s.ErrorCount() - startErrors}

	h.appendOutput(o, res.Items)

	if !o.filtered() && res.Errors == 0 {
		if err := h.hashes.SetLastPushTimestamp(h.desc.ServiceName,
			hashes.Timestamp{Value: time.Now().UTC().Format(time.RFC3339)}); err != nil {
			return res, err
		}
	}

	return res, nil
}

// pushBatch throttles one pass over the given paths and returns the items
// pushed successfully. Retriable failures land on the session's retry list.
func (h *Helper) pushBatch(ctx context.Context, s *Session, o Options, ctrl *retrier.Controller, proxies []artifact.Proxy) []artifact.Item {
	tasks := make([]throttle.Task, 0, len(proxies))

	for _, p := range proxies {
		relPath := p.Path
		tasks = append(tasks, func(ctx context.Context) (any, error) {
			return h.pushPath(ctx, s, o, ctrl, relPath)
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

// retryPushes runs retry passes until the retry list drains. When the
// initial batch produced no success at all, the remaining retries fail
// terminally instead — a wholly failing batch is not worth backing off for.
// Per-item attempt caps are enforced by the controller, so each pass either
// re-enqueues an item with a longer delay or fails it for good.
func (h *Helper) retryPushes(ctx context.Context, s *Session, o Options, ctrl *retrier.Controller, batchProgressed bool) []artifact.Item {
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

		h.logger.Info("retrying failed pushes",
			slog.Int("count", len(retries)),
		)

		tasks := make([]throttle.Task, 0, len(retries))

		for _, r := range retries {
			retry := r
			tasks = append(tasks, func(ctx context.Context) (any, error) {
				if err := retrier.Wait(ctx, retry.Delay); err != nil {
					return nil, err
				}

				return h.pushPath(ctx, s, o, ctrl, retry.Path)
			})
		}

		outcomes := throttle.Run(ctx, o.concurrency(h.desc), tasks)

		for _, out := range outcomes {
			if out.Err == nil {
				if item, ok := out.Value.(artifact.Item); ok && item != nil {
					pushed = append(pushed, item)
				}
			}
		}

		// Once any batch item landed, the per-item attempt caps bound the
		// remaining passes.
		batchProgressed = true
	}
}

// pushPath pushes one file. Retriable errors are recorded on the session's
// retry list (not yet counted as failures); terminal errors emit
// pushed-error and count.
func (h *Helper) pushPath(ctx context.Context, s *Session, o Options, ctrl *retrier.Controller, relPath string) (artifact.Item, error) {
	abs := h.abs(relPath)

	item, err := h.local.Read(abs)
	if err != nil {
		h.failPush(s, relPath, err)

		return nil, err
	}

	if !matchesOptions(item, o) {
		return nil, errSkipped
	}

	pushed, err := h.pushItemRemote(ctx, s, o, item)
	if err != nil {
		return nil, h.handlePushError(s, o, ctrl, relPath, item, err)
	}

	savedPath := abs

	if o.RewriteOnPush {
		// The server's copy (new rev, possibly reassigned id) replaces the
		// pushed file in place; other files carrying the id are
		// reconciled away.
		idMap, mapErr := h.local.IDMap()
		if mapErr == nil {
			if p, saveErr := h.local.Save(pushed, localstore.SaveOptions{IDMap: idMap, Path: relPath}); saveErr == nil {
				savedPath = p
			}
		}
	}

	if err := h.hashes.Update(pushed.ID(), savedPath, pushed, "", ""); err != nil {
		h.logger.Warn("hashes update failed after push",
			slog.String("path", relPath),
			slog.String("error", err.Error()),
		)
	}

	s.Emit(Event{Name: EventPushed, Service: h.desc.ServiceName, Item: pushed, Path: relPath})
	ctrl.Clear(relPath)

	return pushed, nil
}

// pushItemRemote chooses create versus update by the presence of id and
// rev, and handles the conflict-file variant on HTTP 409.
func (h *Helper) pushItemRemote(ctx context.Context, s *Session, o Options, item artifact.Item) (artifact.Item, error) {
	var pushed artifact.Item
	var err error

	if item.ID() != "" && item.Rev() != "" {
		pushed, err = h.remote.Update(ctx, item)
	} else {
		pushed, err = h.remote.Create(ctx, item)
	}

	if err != nil && errors.Is(err, hub.ErrConflict) && o.SaveFileOnConflict {
		h.saveConflict(ctx, item)
	}

	return pushed, err
}

// saveConflict writes the server's version next to the local file for
// manual merge. The push error still propagates.
func (h *Helper) saveConflict(ctx context.Context, item artifact.Item) {
	server, err := h.remote.Item(ctx, item.ID())
	if err != nil {
		h.logger.Warn("could not fetch server version for conflict file",
			slog.String("id", item.ID()),
			slog.String("error", err.Error()),
		)

		return
	}

	if _, err := h.local.Save(server, localstore.SaveOptions{Conflict: true}); err != nil {
		h.logger.Warn("could not write conflict file",
			slog.String("id", item.ID()),
			slog.String("error", err.Error()),
		)
	}
}

// handlePushError routes a push failure to the retry list or to terminal
// failure.
func (h *Helper) handlePushError(s *Session, o Options, ctrl *retrier.Controller, relPath string, item artifact.Item, err error) error {
	if retrier.RetryablePush(h.desc, o.Retry, err) {
		if delay, ok := ctrl.Next(relPath); ok {
			s.AddRetryPush(RetryItem{Key: relPath, Path: relPath, Item: item, Err: err, Delay: delay})

			return err
		}
	}

	h.failPush(s, relPath, err)
	ctrl.Clear(relPath)

	return err
}

// failPush emits pushed-error and counts the failure.
func (h *Helper) failPush(s *Session, relPath string, err error) {
	h.logger.Error("push failed",
		slog.String("path", relPath),
		slog.String("error", err.Error()),
	)

	s.Emit(Event{Name: EventPushedError, Service: h.desc.ServiceName, Path: relPath, Err: err})
	s.AddError()
}

// ---------------------------------------------------------------------------
// Delete

// DeleteAll walks the remote collection and deletes every item passing the
// filters, then retries reference failures while passes make progress.
func (h *Helper) DeleteAll(ctx context.Context, s *Session, o Options) (*Result, error) {
	if h.desc.NoDelete {
		return nil, hub.ErrDeleteNotSupported
	}

	startErrors := s.ErrorCount()

	res := &Result{}

	err := pager.Each(ctx, pager.Options{Offset: o.Offset, Limit: o.Limit, AdjustOffset: true},
		func(ctx context.Context, offset, limit int) ([]artifact.Item, error) {
			return h.remote.Items(ctx, offset, limit)
		},
		func(ctx context.Context, items []artifact.Item) (pager.ChunkResult, error) {
			kept := filterItems(items, o)

			if o.Manifest != nil {
				kept = h.manifestScope(kept, o)
			}

			deleted := h.deleteBatch(ctx, s, o, kept)
			res.Items = append(res.Items, deleted...)

			return pager.ChunkResult{Count: len(items), Removed: len(deleted)}, nil
		})
	if err != nil {
		res.Errors = s.ErrorCount() - startErrors

		return res, err
	}

	res.Items = append(res.Items, h.retryDeletes(ctx, s, o)...)
	res.Errors = s.ErrorCount() - startErrors

	if o.DeletionsManifest != nil && len(res.Items) > 0 {
		o.DeletionsManifest.Append(h.desc.ServiceName, res.Items)
	}

	return res, nil
}

// DeleteItem deletes one remote artifact; HTTP 404 is treated as success
// (already deleted).
func (h *Helper) DeleteItem(ctx context.Context, s *Session, o Options, item artifact.Item) error {
	if h.desc.NoDelete {
		return hub.ErrDeleteNotSupported
	}

	_, err := h.deleteRemote(ctx, s, item)

	return err
}

// manifestScope keeps only items named by the input manifest.
func (h *Helper) manifestScope(items []artifact.Item, o Options) []artifact.Item {
	names := o.Manifest.Names(h.desc.ServiceName)

	ids := make(map[string]struct{}, len(names))
	for _, p := range names {
		ids[p.ID] = struct{}{}
	}

	out := items[:0:0]

	for _, it := range items {
		if _, ok := ids[it.ID()]; ok {
			out = append(out, it)
		}
	}

	return out
}

// deleteBatch throttles one pass of deletes; retriable reference failures
// land on the session's retry list.
func (h *Helper) deleteBatch(ctx context.Context, s *Session, o Options, items []artifact.Item) []artifact.Item {
	tasks := make([]throttle.Task, 0, len(items))

	for _, it := range items {
		item := it
		tasks = append(tasks, func(ctx context.Context) (any, error) {
			ok, err := h.deleteRemoteOrRetry(ctx, s, item)
			if !ok {
				return nil, err
			}

			return item, nil
		})
	}

	outcomes := throttle.Run(ctx, o.concurrency(h.desc), tasks)

	var deleted []artifact.Item

	for _, out := range outcomes {
		if out.Err == nil {
			if item, ok := out.Value.(artifact.Item); ok {
				deleted = append(deleted, item)
			}
		}
	}

	return deleted
}

// retryDeletes loops over the delete retry list. The first retry pass always
// runs; each later pass runs only while at least one delete in the preceding
// pass succeeded — breaking one reference unblocks others.
func (h *Helper) retryDeletes(ctx context.Context, s *Session, o Options) []artifact.Item {
	var deleted []artifact.Item

	progressed := true

	for {
		retries := s.TakeRetryDelete()
		if len(retries) == 0 {
			return deleted
		}

		if !progressed {
			for _, r := range retries {
				h.failDelete(s, r.Item, r.Err)
			}

			return deleted
		}

		h.logger.Info("retrying failed deletes",
			slog.Int("count", len(retries)),
		)

		passDeleted := 0

		// The retry list is paged without offset adjustment — it is a
		// private list, not the live collection.
		for start := 0; start < len(retries); start += pager.DefaultLimit {
			end := min(start+pager.DefaultLimit, len(retries))

			tasks := make([]throttle.Task, 0, end-start)

			for _, r := range retries[start:end] {
				retry := r
				tasks = append(tasks, func(ctx context.Context) (any, error) {
					if err := retrier.Wait(ctx, retry.Delay); err != nil {
						return nil, err
					}

					ok, err := h.deleteRemoteOrRetry(ctx, s, retry.Item)
					if !ok {
						return nil, err
					}

					return retry.Item, nil
				})
			}

			outcomes := throttle.Run(ctx, o.concurrency(h.desc), tasks)

			for _, out := range outcomes {
				if out.Err == nil {
					if item, ok := out.Value.(artifact.Item); ok {
						deleted = append(deleted, item)
						passDeleted++
					}
				}
			}
		}

		progressed = passDeleted > 0
	}
}

// deleteRemoteOrRetry deletes one item, routing reference failures to the
// retry list. Returns true when the item is gone.
func (h *Helper) deleteRemoteOrRetry(ctx context.Context, s *Session, item artifact.Item) (bool, error) {
	ok, err := h.deleteRemote(ctx, s, item)
	if err == nil {
		return ok, nil
	}

	if retrier.RetryableDelete(err) {
		s.AddRetryDelete(RetryItem{Key: item.ID(), Item: item, Err: err})

		return false, err
	}

	h.failDelete(s, item, err)

	return false, err
}

// deleteRemote performs the delete, treating 404 as success, and clears the
// hashes entry.
func (h *Helper) deleteRemote(ctx context.Context, s *Session, item artifact.Item) (bool, error) {
	err := h.remote.Delete(ctx, item)
	if err != nil && hub.StatusOf(err) != http.StatusNotFound {
		return false, err
	}

	if hashErr := h.hashes.Remove(item.ID()); hashErr != nil {
		h.logger.Warn("hashes remove failed after delete",
			slog.String("id", item.ID()),
			slog.String("error", hashErr.Error()),
		)
	}

	s.Emit(Event{Name: EventDeleted, Service: h.desc.ServiceName, Item: item})

	return true, nil
}

// failDelete emits deleted-error and counts the failure.
func (h *Helper) failDelete(s *Session, item artifact.Item, err error) {
	h.logger.Error("delete failed",
		slog.String("id", item.ID()),
		slog.String("error", err.Error()),
	)

	s.Emit(Event{Name: EventDeletedError, Service: h.desc.ServiceName, Item: item, Err: err})
	s.AddError()
}
