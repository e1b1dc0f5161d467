package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/netmon/nettask/internal/server"
	"github.com/netmon/nettask/pkg/logger"
)

const version = "1.0.0"

func main() {
	var cfg server.Config
	var tasksPath string
	var bandwidthCollector bool
	var bandwidthCollectorBin string

	root := &cobra.Command{
		Use:   "nettask-server",
		Short: "NetTask/AlertFlow monitoring server",
		Run: func(cmd *cobra.Command, args []string) {
			run(cfg, tasksPath, bandwidthCollector, bandwidthCollectorBin)
		},
	}

	root.Flags().StringVar(&cfg.Host, "host", "10.0.4.10", "NetTask/AlertFlow bind host")
	root.Flags().IntVar(&cfg.Port, "port", 5005, "NetTask UDP port")
	root.Flags().IntVar(&cfg.AlertPort, "alert-port", 5006, "AlertFlow TCP port")
	root.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", "", "optional Prometheus /metrics listen address (disabled if empty)")
	root.Flags().StringVar(&tasksPath, "tasks", "", "task definition file to pre-load at startup (optional)")
	root.Flags().BoolVar(&bandwidthCollector, "bandwidth-collector", true, "start the iperf -s -u collector subprocess for BANDWIDTH(6) tasks")
	root.Flags().StringVar(&bandwidthCollectorBin, "bandwidth-collector-bin", "", "override the bandwidth collector binary (default: iperf from $PATH)")

	if err := root.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func run(cfg server.Config, tasksPath string, bandwidthCollector bool, bandwidthCollectorBin string) {
	logger.Banner("NetTask Server", version)

	srv, err := server.New(cfg)
	if err != nil {
		logger.Fatal("starting server: %v", err)
	}
	defer srv.Close()

	if bandwidthCollector {
		collector, err := server.StartCollector(bandwidthCollectorBin)
		if err != nil {
			// spec.md section 6: exit code 1 if the bandwidth-collector
			// dependency cannot be started on the Server.
			logger.Fatal("starting bandwidth collector: %v", err)
		}
		defer collector.Close()
	}

	fs := afero.NewOsFs()
	if tasksPath != "" {
		n, err := server.LoadTaskFile(fs, tasksPath, srv.Queue)
		if err != nil {
			logger.Error("loading %s: %v", tasksPath, err)
		} else {
			logger.Success("loaded %d task(s) from %s", n, tasksPath)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	logger.Info("listening for NetTask on %s:%d, AlertFlow on %s:%d", cfg.Host, cfg.Port, cfg.Host, cfg.AlertPort)

	go func() {
		srv.RunMenu(ctx, fs, os.Stdin, os.Stdout)
		cancel()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server error: %v", err)
		}
	case sig := <-sigCh:
		logger.Warn("received signal: %v, shutting down", sig)
		cancel()
		<-errCh
	}

	logger.Success("server stopped")
}
