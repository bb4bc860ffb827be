package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/server"
	"github.com/conneroisu/starhp/internal/websocket"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		watch   bool
		fetch   bool
		origins []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Render documents over HTTP",
		Long: `Serve the documents of the backend over HTTP. The request path names the
document; paths ending in a slash render the index document. Documents see
the request as the binding request.

With --watch, the directory layer of the backend is watched like the watch
command does and every changed name is pushed as JSON to the WebSocket
clients of /_events. This needs a cache on top of the backend.

Examples:
  starhp serve
  starhp serve --addr :9000 --max-connections 64
  starhp serve --watch --fetch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.withBackend(func(container backends.Container) error {
				srv := server.New(container, server.Config{
					Addr:           a.config.Server.Addr,
					MaxConnections: a.config.Server.MaxConnections,
					Index:          a.config.Server.Index,
					ContentType:    a.config.Server.ContentType,
				}, a.logger)

				if watch {
					hub := websocket.NewHub(origins, a.logger)
					defer hub.Shutdown()

					fileWatcher, err := a.watchBackend(ctx, container, nil, fetch, 300*time.Millisecond, hub.Notify)
					if err != nil {
						return err
					}
					defer fileWatcher.Stop()

					srv.WithEvents(hub)
				}

				return srv.ListenAndServe(ctx)
			})
		},
	}

	cmd.Flags().String("addr", "", "address to listen on (default from server.addr)")
	cmd.Flags().Int("max-connections", 0, "maximum concurrent connections, 0 for no limit")
	bindFlags(a.viper, cmd.Flags(), map[string]string{
		"addr":            "server.addr",
		"max-connections": "server.max_connections",
	})
	cmd.Flags().BoolVar(&watch, "watch", false, "collect changed documents and push their names to /_events")
	cmd.Flags().BoolVar(&fetch, "fetch", false, "with --watch, compile changed documents right away")
	cmd.Flags().StringSliceVar(&origins, "origin", nil, "host patterns allowed to connect to /_events besides the server host")

	return cmd
}
