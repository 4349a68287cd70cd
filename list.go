package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acoustic-content-samples/wchtools-go/internal/artifact"
	"github.com/acoustic-content-samples/wchtools-go/internal/config"
	"github.com/acoustic-content-samples/wchtools-go/internal/hashes"
	"github.com/acoustic-content-samples/wchtools-go/internal/wchsync"
)

func newListCmd() *cobra.Command {
	var (
		flagServer   bool
		flagModified bool
		flagDeleted  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List artifacts locally or on the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := cliContextFrom(cmd.Context())

			engine, hs, err := buildEngine(cc, false)
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

			session := wchsync.NewSession(nil, cc.Logger)

			flags := hashes.New | hashes.Modified
			if flagDeleted {
				flags |= hashes.Deleted
			}

			var rows [][]string

			for _, service := range services {
				h, _ := engine.Helper(service)
				o := flowOptions(cc, service, in, out, deletions)

				proxies, listErr := listService(cmd, engine, h, session, o, service, flagServer, flagModified, flags)
				if listErr != nil {
					return listErr
				}

				for _, p := range proxies {
					name := p.Name
					if name == "" {
						name = p.Path
					}

					size := ""
					if n, ok := p.Extra["size"].(int64); ok {
						size = formatSize(n)
					}

					rows = append(rows, []string{service, p.ID, name, size})
				}
			}

			printTable(os.Stdout, []string{"TYPE", "ID", "NAME", "SIZE"}, rows)
			statusf("%d artifacts\n", len(rows))

			return saveManifests(out)
		},
	}

	addScopeFlags(cmd)
	cmd.Flags().BoolVar(&flagServer, "server", false, "list server artifacts instead of local files")
	cmd.Flags().BoolVar(&flagModified, "mod", false, "only artifacts modified since the last sync")
	cmd.Flags().BoolVar(&flagDeleted, "del", false, "include deleted artifacts in modified listings")

	return cmd
}

// listService dispatches the four list variants for one artifact type.
func listService(
	cmd *cobra.Command, engine *wchsync.Engine, h *wchsync.Helper, session *wchsync.Session,
	o wchsync.Options, service string, server, modified bool, flags hashes.Flags,
) ([]artifact.Proxy, error) {
	isAssets := service == artifact.Assets.ServiceName

	switch {
	case server && modified:
		return h.ListModifiedRemote(cmd.Context(), session, flags, o)
	case server:
		if isAssets {
			return engine.Assets().ListRemote(cmd.Context(), session, o)
		}

		return h.ListRemote(cmd.Context(), session, o)
	case modified:
		if isAssets {
			return engine.Assets().ListModifiedLocal(flags, o)
		}

		return h.ListModifiedLocal(flags, o)
	default:
		if isAssets {
			return engine.Assets().ListLocal(o)
		}

		return h.ListLocal(o)
	}
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a starter configuration file",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			dir, err := resolveWorkingDir()
			if err != nil {
				return err
			}

			path, err := config.WriteStarter(dir)
			if err != nil {
				return err
			}

			fmt.Println("wrote", path)

			return nil
		},
	}

	return cmd
}
