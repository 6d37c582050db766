package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/perpetuallyhorni/trailercast/pkg/server"
	"github.com/spf13/cobra"
)

// serveCmd runs the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the publishing API and Prometheus metrics over HTTP.",
	Long: `Serves a JSON API for dashboards and schedulers:

  GET  /healthz
  GET  /api/targets
  GET  /api/quota
  POST /api/quota/reset   {"platform": "tiktok"}
  POST /api/publish       {"video": {"url": "..."}, "caption": "...", "targets": ["tiktok"]}
  GET  /api/history?target=&source_id=&limit=
  GET  /metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.ListenAddress
		if cmd.Flags().Changed("listen") {
			addr, _ = cmd.Flags().GetString("listen")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		router := server.NewRouter(appClient, appClient.Metrics().Handler(), fileLogger)
		console.Info("Serving on http://%s (Ctrl+C to stop)", addr)
		if err := server.ListenAndServe(ctx, addr, router, fileLogger); err != nil {
			return err
		}
		console.Success("Server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringP("listen", "l", "", "Address to listen on (overrides config)")
}
