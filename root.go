package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/acoustic-content-samples/wchtools-go/internal/config"
	"github.com/acoustic-content-samples/wchtools-go/internal/hashes"
	"github.com/acoustic-content-samples/wchtools-go/internal/hub"
	"github.com/acoustic-content-samples/wchtools-go/internal/localstore"
	"github.com/acoustic-content-samples/wchtools-go/internal/manifest"
	"github.com/acoustic-content-samples/wchtools-go/internal/wchsync"
)

// version is set at build time via ldflags.
var version = "dev"

// Global flags: the persistent ones are bound in newRootCmd, the scope
// flags per command in addScopeFlags.
var (
	flagConfigPath string
	flagDir        string
	flagBaseURL    string
	flagTenantID   string
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool

	flagReady        bool
	flagDraft        bool
	flagPath         string
	flagWebAssets    bool
	flagNamedTypes   []string
	flagManifestIn   string
	flagManifestOut  string
	flagDeletions    bool
	flagNoHashes     bool
	flagLimit        int
	flagOffset       int
	flagConcurrent   int
	flagRewrite      bool
	flagSaveConflict bool
)

// httpClientTimeout bounds metadata requests; streamed transfers use a
// client without a timeout and rely on context cancellation instead.
const httpClientTimeout = 30 * time.Second

// CLIContext bundles resolved config, logger, and working directory.
// Created once in PersistentPreRunE.
type CLIContext struct {
	Cfg        *config.Config
	Logger     *slog.Logger
	WorkingDir string
}

type cliContextKey struct{}

// cliContextFrom extracts the CLIContext from the command's context.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext not found in context — config loading must run before RunE")
	}

	return cc
}

// skipConfigAnnotation marks commands that handle config themselves.
const skipConfigAnnotation = "skipConfig"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wchtools",
		Short:   "Content hub authoring artifact sync",
		Long:    "Synchronize authoring artifacts between a local working directory and a content hub tenant.",
		Version: version,
		// Errors are printed by main's error handler; usage is not printed.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadCLIContext(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "config file path")
	pf.StringVar(&flagDir, "dir", ".", "working directory")
	pf.StringVar(&flagBaseURL, "base-url", "", "tenant API endpoint")
	pf.StringVar(&flagTenantID, "tenant", "", "tenant identifier")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	pf.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// addScopeFlags registers the flags shared by list/pull/push/delete.
func addScopeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&flagReady, "ready", false, "only ready artifacts")
	f.BoolVar(&flagDraft, "draft", false, "only draft artifacts")
	f.StringVar(&flagPath, "path", "", "only artifacts under this virtual path (* matches within a segment)")
	f.BoolVar(&flagWebAssets, "web-assets", false, "only web assets (assets flows)")
	f.StringSliceVarP(&flagNamedTypes, "artifact-types", "t", nil, "artifact types to process (default: all)")
	f.StringVar(&flagManifestIn, "manifest", "", "scope the operation to a manifest file")
	f.StringVar(&flagManifestOut, "write-manifest", "", "record results into a manifest file")
	f.BoolVar(&flagDeletions, "deletions", false, "emit local-only reconciliation events")
	f.BoolVar(&flagNoHashes, "no-hashes", false, "disable change tracking")
	f.IntVar(&flagLimit, "limit", 0, "page size")
	f.IntVar(&flagOffset, "offset", 0, "page start")
	f.IntVar(&flagConcurrent, "concurrent-limit", 0, "tasks in flight per chunk")
	f.BoolVar(&flagRewrite, "rewrite-on-push", false, "persist the server's metadata after push")
	f.BoolVar(&flagSaveConflict, "save-conflict", false, "write <path>.conflict on push conflicts")
}

// loadCLIContext resolves config and installs the CLIContext.
func loadCLIContext(cmd *cobra.Command) error {
	dir, err := resolveWorkingDir()
	if err != nil {
		return err
	}

	cfg, err := config.Load(dir, flagConfigPath)
	if err != nil {
		return err
	}

	if flagBaseURL != "" {
		cfg.Tenant.BaseURL = flagBaseURL
	}

	if flagTenantID != "" {
		cfg.Tenant.ID = flagTenantID
	}

	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	cc := &CLIContext{Cfg: cfg, Logger: logger, WorkingDir: dir}
	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

	return nil
}

func resolveWorkingDir() (string, error) {
	dir := flagDir
	if dir == "" || dir == "." {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolving working directory: %w", err)
		}

		return wd, nil
	}

	abs, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("working directory %s: %w", dir, err)
	}

	if !abs.IsDir() {
		return "", fmt.Errorf("working directory %s is not a directory", dir)
	}

	return dir, nil
}

// buildLogger assembles the slog handler: level from flags and config,
// text on a TTY, JSON otherwise, optionally teeing to a log file.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagQuiet:
		level = slog.LevelError
	case flagVerbose:
		level = slog.LevelInfo
	default:
		switch strings.ToLower(cfg.Logging.Level) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	out := os.Stderr

	if cfg.Logging.File != "" {
		if f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			out = f
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	useText := cfg.Logging.Format != "json" &&
		(cfg.Logging.Format == "text" || isatty.IsTerminal(out.Fd()))
	if useText {
		return slog.New(slog.NewTextHandler(out, opts))
	}

	return slog.New(slog.NewJSONHandler(out, opts))
}

// newHubClient builds the tenant client. The bearer token comes from the
// WCHTOOLS_PASSWORD environment variable; richer credential providers plug
// in through the hub.TokenSource interface.
func newHubClient(cc *CLIContext, timeout time.Duration) (*hub.Client, error) {
	if cc.Cfg.Tenant.BaseURL == "" {
		return nil, fmt.Errorf("no tenant base URL configured (set [tenant] base_url or --base-url)")
	}

	httpClient := &http.Client{Timeout: timeout}
	token := hub.StaticToken(os.Getenv(config.EnvPassword))

	return hub.NewClient(cc.Cfg.Tenant.BaseURL, cc.Cfg.Tenant.ID, httpClient, token, cc.Logger, "wchtools-go/"+version), nil
}

// buildEngine assembles the hashes store and the per-type helpers.
func buildEngine(cc *CLIContext, transfers bool) (*wchsync.Engine, *hashes.Store, error) {
	timeout := httpClientTimeout
	if transfers {
		timeout = 0
	}

	client, err := newHubClient(cc, timeout)
	if err != nil {
		return nil, nil, err
	}

	hs, err := hashes.Open(cc.WorkingDir, hashes.Options{
		Tenant:         hashes.TenantKey{ID: cc.Cfg.Tenant.ID, BaseURL: cc.Cfg.Tenant.BaseURL},
		UseHashes:      cc.Cfg.Sync.UseHashes && !flagNoHashes,
		WriteThreshold: cc.Cfg.Sync.HashesWriteThreshold,
		WriteMaxTime:   cc.Cfg.HashesWriteMaxTimeDuration(),
		Logger:         cc.Logger,
	})
	if err != nil {
		return nil, nil, err
	}

	storeOpts := localstore.Options{
		NoVirtualFolder: cc.Cfg.Sync.NoVirtualFolder,
		Cache:           true,
		Logger:          cc.Logger,
	}

	if len(cc.Cfg.Sync.IgnoreFiles) > 0 || len(cc.Cfg.Sync.IgnoreDirs) > 0 {
		storeOpts.Ignore = localstore.NewIgnore(cc.Cfg.Sync.IgnoreFiles, cc.Cfg.Sync.IgnoreDirs, cc.Cfg.Sync.IgnoreAdditive)
	}

	return wchsync.NewEngine(client, cc.WorkingDir, hs, cc.Logger, storeOpts), hs, nil
}

// flowOptions assembles per-service flow options from flags and config.
func flowOptions(cc *CLIContext, service string, in, out, deletions *manifest.Manifest) wchsync.Options {
	svc := cc.Cfg.Service(service)

	limit := flagLimit
	if limit == 0 {
		limit = svc.Limit
	}

	offset := flagOffset
	if offset == 0 {
		offset = svc.Offset
	}

	concurrent := flagConcurrent
	if concurrent == 0 {
		concurrent = svc.ConcurrentLimit
	}

	return wchsync.Options{
		Offset:             offset,
		Limit:              limit,
		ConcurrentLimit:    concurrent,
		FilterReady:        flagReady,
		FilterDraft:        flagDraft,
		FilterPath:         flagPath,
		WebAssetsOnly:      flagWebAssets,
		Deletions:          flagDeletions || cc.Cfg.Sync.Deletions,
		RewriteOnPush:      flagRewrite || cc.Cfg.Sync.RewriteOnPush,
		SaveFileOnConflict: flagSaveConflict || cc.Cfg.Sync.SaveFileOnConflict,
		DisableResources:   cc.Cfg.Sync.DisableResources,
		Manifest:           in,
		OutputManifest:     out,
		DeletionsManifest:  deletions,
		Retry:              cc.Cfg.RetryOptions(service),
	}
}

// selectedServices resolves -t into service names, defaulting to all.
func selectedServices(engine *wchsync.Engine) ([]string, error) {
	if len(flagNamedTypes) == 0 {
		return engine.Services(), nil
	}

	var out []string

	for _, name := range flagNamedTypes {
		if _, ok := engine.Helper(name); !ok {
			return nil, fmt.Errorf("unknown artifact type %q", name)
		}

		out = append(out, name)
	}

	return out, nil
}

// loadManifests resolves the input/output/deletions manifests from flags.
// The input manifest is checked against the tenant tier.
func loadManifests(cc *CLIContext) (in, out, deletions *manifest.Manifest, err error) {
	if flagManifestIn != "" {
		in, err = manifest.Load(flagManifestIn)
		if err != nil {
			return nil, nil, nil, err
		}

		if err := in.CheckCompatibility(cc.Cfg.Tenant.Tier); err != nil {
			return nil, nil, nil, err
		}
	}

	if flagManifestOut != "" {
		out = manifest.New()
		deletions = out
	}

	return in, out, deletions, nil
}

// saveManifests persists the output manifest when requested.
func saveManifests(out *manifest.Manifest) error {
	if out == nil || flagManifestOut == "" {
		return nil
	}

	return out.Save(flagManifestOut)
}
