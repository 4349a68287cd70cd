package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
	"github.com/acoustic-content-samples/wchtools-go/internal/wchsync"
)

func newDeleteCmd() *cobra.Command {
	var (
		flagID  string
		flagAll bool
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete artifacts on the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := cliContextFrom(cmd.Context())

			if !flagAll && flagID == "" && flagManifestIn == "" {
				return fmt.Errorf("delete requires --all, --id, or --manifest")
			}

			engine, hs, err := buildEngine(cc, false)
			if err != nil {
				return err
			}
			defer hs.Close()

			services, err := selectedServices(engine)
			if err != nil {
				return err
			}

			if flagID != "" && len(services) != 1 {
				return fmt.Errorf("--id requires exactly one -t artifact type")
			}

			in, out, deletions, err := loadManifests(cc)
			if err != nil {
				return err
			}

			emitter := wchsync.NewChannelEmitter(256)
			drained := make(chan struct{})

			go drainEvents(emitter, drained)

			session := wchsync.NewSession(emitter, cc.Logger)

			deleted := 0

			var flowErr error

			for _, service := range services {
				h, _ := engine.Helper(service)
				o := flowOptions(cc, service, in, out, deletions)

				if flagID != "" {
					flowErr = h.DeleteItem(cmd.Context(), session, o, artifact.Item{"id": flagID})
					if flowErr == nil {
						deleted++
					}

					break
				}

				res, delErr := h.DeleteAll(cmd.Context(), session, o)
				if delErr != nil {
					flowErr = delErr

					break
				}

				deleted += len(res.Items)
			}

			emitter.Close()
			<-drained

			if flowErr != nil {
				return flowErr
			}

			if saveErr := saveManifests(out); saveErr != nil {
				return saveErr
			}

			statusf("deleted %d artifacts\n", deleted)

			if n := session.ErrorCount(); n > 0 {
				return fmt.Errorf("%d artifacts failed to delete", n)
			}

			return nil
		},
	}

	addScopeFlags(cmd)
	cmd.Flags().StringVar(&flagID, "id", "", "delete a single artifact by id (requires exactly one -t)")
	cmd.Flags().BoolVar(&flagAll, "all", false, "delete every matching artifact")

	return cmd
}
