package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
	"github.com/acoustic-content-samples/wchtools-go/internal/manifest"
	"github.com/acoustic-content-samples/wchtools-go/internal/wchsync"
)

func newPullCmd() *cobra.Command {
	var (
		flagModified bool
		flagID       string
		flagByPath   string
	)

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull artifacts from the server into the working directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := cliContextFrom(cmd.Context())

			engine, hs, err := buildEngine(cc, true)
			if err != nil {
				return err
			}
			defer hs.Close()

			services, err := selectedServices(engine)
			if err != nil {
				return err
			}

			in, out, deletions, err := loadManifests(cc)
			if err != nil {
				return err
			}

			emitter := wchsync.NewChannelEmitter(256)
			drained := make(chan struct{})

			go drainEvents(emitter, drained)

			session := wchsync.NewSession(emitter, cc.Logger)

			pulled, errCount, err := runPull(cmd, engine, session, cc, services, pullScope{
				modified: flagModified,
				id:       flagID,
				byPath:   flagByPath,
				in:       in, out: out, deletions: deletions,
			})

			emitter.Close()
			<-drained

			if err != nil {
				return err
			}

			if saveErr := saveManifests(out); saveErr != nil {
				return saveErr
			}

			statusf("pulled %d artifacts\n", pulled)

			if errCount > 0 {
				return fmt.Errorf("%d artifacts failed to pull", errCount)
			}

			return nil
		},
	}

	addScopeFlags(cmd)
	cmd.Flags().BoolVar(&flagModified, "mod", false, "only artifacts modified since the last pull")
	cmd.Flags().StringVar(&flagID, "id", "", "pull a single artifact by id (requires exactly one -t)")
	cmd.Flags().StringVar(&flagByPath, "by-path", "", "pull a single asset by virtual path")

	return cmd
}

type pullScope struct {
	modified bool
	id       string
	byPath   string

	in, out, deletions *manifest.Manifest
}

// runPull dispatches the pull variants across the selected services.
func runPull(
	cmd *cobra.Command, engine *wchsync.Engine, session *wchsync.Session,
	cc *CLIContext, services []string, scope pullScope,
) (pulled, errCount int, err error) {
	ctx := cmd.Context()

	if scope.byPath != "" {
		o := flowOptions(cc, artifact.Assets.ServiceName, scope.in, scope.out, scope.deletions)

		if _, pullErr := engine.Assets().PullByPath(ctx, session, o, scope.byPath); pullErr != nil {
			return 0, session.ErrorCount(), pullErr
		}

		return 1, session.ErrorCount(), nil
	}

	if scope.id != "" {
		if len(services) != 1 {
			return 0, 0, fmt.Errorf("--id requires exactly one -t artifact type")
		}

		h, _ := engine.Helper(services[0])
		o := flowOptions(cc, services[0], scope.in, scope.out, scope.deletions)

		if _, pullErr := h.PullItem(ctx, session, o, scope.id); pullErr != nil {
			return 0, session.ErrorCount(), pullErr
		}

		return 1, session.ErrorCount(), nil
	}

	for _, service := range services {
		o := flowOptions(cc, service, scope.in, scope.out, scope.deletions)

		res, pullErr := pullService(ctx, engine, session, service, o, scope)
		if pullErr != nil {
			return pulled, session.ErrorCount(), pullErr
		}

		pulled += len(res.Items)
	}

	return pulled, session.ErrorCount(), nil
}

func pullService(
	ctx context.Context, engine *wchsync.Engine, session *wchsync.Session,
	service string, o wchsync.Options, scope pullScope,
) (*wchsync.Result, error) {
	isAssets := service == artifact.Assets.ServiceName

	switch {
	case scope.in != nil:
		h, _ := engine.Helper(service)

		return h.PullManifest(ctx, session, o)
	case scope.modified:
		if isAssets {
			return engine.Assets().PullModified(ctx, session, o)
		}

		h, _ := engine.Helper(service)

		return h.PullModified(ctx, session, o)
	default:
		if isAssets {
			return engine.Assets().PullAll(ctx, session, o)
		}

		h, _ := engine.Helper(service)

		return h.PullAll(ctx, session, o)
	}
}
