package main

import (
	"github.com/spf13/cobra"

	"github.com/acoustic-content-samples/wchtools-go/internal/wchsync"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the working directory and push changes",
		Long:  "Watch the working directory for file changes and push modified artifacts after each quiet period. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := cliContextFrom(cmd.Context())

			engine, hs, err := buildEngine(cc, true)
			if err != nil {
				return err
			}
			defer hs.Close()

			emitter := wchsync.NewChannelEmitter(256)
			drained := make(chan struct{})

			go drainEvents(emitter, drained)

			session := wchsync.NewSession(emitter, cc.Logger)
			watcher := wchsync.NewWatcher(engine, cc.WorkingDir, cc.Logger)

			// One option set, built from the content service's settings, is
			// passed to every service's push.
			o := flowOptions(cc, "content", nil, nil, nil)

			err = watcher.Run(cmd.Context(), session, o)

			emitter.Close()
			<-drained

			return err
		},
	}

	addScopeFlags(cmd)

	return cmd
}
