package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
	"github.com/acoustic-content-samples/wchtools-go/internal/wchsync"
)

func newPushCmd() *cobra.Command {
	var (
		flagModified bool
		flagNamed    string
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push local artifacts to the server",
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

			if flagNamed != "" && len(services) != 1 {
				return fmt.Errorf("--named requires exactly one -t artifact type")
			}

			emitter := wchsync.NewChannelEmitter(256)
			drained := make(chan struct{})

			go drainEvents(emitter, drained)

			session := wchsync.NewSession(emitter, cc.Logger)

			pushed := 0

			var flowErr error

			for _, service := range services {
				o := flowOptions(cc, service, in, out, deletions)

				res, pushErr := pushService(cmd.Context(), engine, session, service, o, flagModified, flagNamed)
				if pushErr != nil {
					flowErr = pushErr

					break
				}

				if res != nil {
					pushed += len(res.Items)
				}
			}

			emitter.Close()
			<-drained

			if flowErr != nil {
				return flowErr
			}

			if saveErr := saveManifests(out); saveErr != nil {
				return saveErr
			}

			statusf("pushed %d artifacts\n", pushed)

			if n := session.ErrorCount(); n > 0 {
				return fmt.Errorf("%d artifacts failed to push", n)
			}

			return nil
		},
	}

	addScopeFlags(cmd)
	cmd.Flags().BoolVar(&flagModified, "mod", false, "only files changed since the last sync")
	cmd.Flags().StringVar(&flagNamed, "named", "", "push a single file by working-directory-relative path (requires exactly one -t)")

	return cmd
}

func pushService(
	ctx context.Context, engine *wchsync.Engine, session *wchsync.Session,
	service string, o wchsync.Options, modified bool, named string,
) (*wchsync.Result, error) {
	isAssets := service == artifact.Assets.ServiceName

	if named != "" {
		if isAssets {
			item, err := engine.Assets().PushItem(ctx, session, o, named)
			if err != nil {
				return nil, err
			}

			return &wchsync.Result{Items: []artifact.Item{item}}, nil
		}

		h, _ := engine.Helper(service)

		item, err := h.PushItem(ctx, session, o, named)
		if err != nil {
			return nil, err
		}

		return &wchsync.Result{Items: []artifact.Item{item}}, nil
	}

	if isAssets {
		if modified {
			return engine.Assets().PushModified(ctx, session, o)
		}

		return engine.Assets().PushAll(ctx, session, o)
	}

	h, _ := engine.Helper(service)

	if modified {
		return h.PushModified(ctx, session, o)
	}

	return h.PushAll(ctx, session, o)
}
