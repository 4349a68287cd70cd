package wchsync

import (
	"log/slog"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
	"github.com/acoustic-content-samples/wchtools-go/internal/hashes"
	"github.com/acoustic-content-samples/wchtools-go/internal/hub"
	"github.com/acoustic-content-samples/wchtools-go/internal/localstore"
)

// Engine bundles one helper per artifact type over a shared hub client,
// working directory, and hashes store. The CLI (and tests) construct one
// engine per invocation.
type Engine struct {
	helpers map[string]*Helper
	assets  *AssetsHelper
	hashes  *hashes.Store
}

// NewEngine builds helpers for every artifact type.
func NewEngine(client *hub.Client, workingDir string, hs *hashes.Store, logger *slog.Logger, storeOpts localstore.Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		helpers: make(map[string]*Helper),
		hashes:  hs,
	}

	for _, desc := range artifact.All() {
		if desc.ServiceName == artifact.Assets.ServiceName {
			svc := hub.NewAssetsService(client, logger)
			store := localstore.NewAssetStore(workingDir, storeOpts)
			e.assets = NewAssetsHelper(svc, store, hs, logger)
			e.helpers[desc.ServiceName] = e.assets.Helper

			continue
		}

		svc := hub.NewService(client, desc, logger)
		store := localstore.New(workingDir, desc, storeOpts)
		e.helpers[desc.ServiceName] = NewHelper(svc, store, hs, logger)
	}

	return e
}

// Helper returns the generic helper for a service name.
func (e *Engine) Helper(service string) (*Helper, bool) {
	h, ok := e.helpers[service]

	return h, ok
}

// Assets returns the asset-specialized helper.
func (e *Engine) Assets() *AssetsHelper { return e.assets }

// Hashes returns the shared hashes store.
func (e *Engine) Hashes() *hashes.Store { return e.hashes }

// Services returns the service names in flow order.
func (e *Engine) Services() []string {
	descs := artifact.All()
	out := make([]string, 0, len(descs))

	for _, d := range descs {
		out = append(out, d.ServiceName)
	}

	return out
}
