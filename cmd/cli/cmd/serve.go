// Package cmd - serve command
package cmd

import (
	"github.com/spf13/cobra"

	"autowatch/internal/bootstrap"
	"autowatch/internal/config"
)

var (
	serveAddr      string
	serveNoMonitor bool
)

// serveCmd runs the HTTP API and the price monitor
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and scheduled price checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		if serveAddr != "" {
			cfg.Server.Address = serveAddr
		}
		if serveNoMonitor {
			cfg.Monitor.Enabled = false
		}

		app, err := bootstrap.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		return app.Run(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoMonitor, "no-monitor", false, "do not schedule price checks")
}
