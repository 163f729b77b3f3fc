package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sfs-coordinator/internal/service"
	"github.com/sfs-coordinator/pkg/telemetry"
)

var (
	// Serve command flags
	listenAddr string
)

// serveCmd runs the monitor service.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the region monitor service",
	Long: `Run a long-lived monitor over the coordination region. The monitor
periodically snapshots the allocation graph, journals events to the
configured database, archives snapshots, and serves:

  /api/status  current graph as JSON
  /healthz     liveness probe
  /metrics     Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "HTTP listen address (defaults to config)")

	binName := BinName()
	serveCmd.Example = `  # Monitor the configured region
  ` + binName + ` serve

  # Monitor with a specific listen address
  ` + binName + ` serve -l :9090`
}

func runServe(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	conf := GetConfig()
	if listenAddr != "" {
		conf.Monitor.ListenAddr = listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx)
	if err != nil {
		log.Warn("failed to initialise telemetry: %v", err)
	} else {
		defer shutdownTelemetry(context.Background())
	}

	svc, err := service.New(conf, log)
	if err != nil {
		return err
	}
	if err := svc.Initialize(ctx); err != nil {
		return err
	}

	return svc.Run(ctx)
}
