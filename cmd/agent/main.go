package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/netmon/nettask/internal/agent"
	"github.com/netmon/nettask/pkg/logger"
)

const version = "1.0.0"

func main() {
	var cfg agent.Config

	root := &cobra.Command{
		Use:   "nettask-agent",
		Short: "NetTask/AlertFlow monitoring agent",
		Run: func(cmd *cobra.Command, args []string) {
			run(cfg)
		},
	}

	root.Flags().StringVar(&cfg.Hostname, "hostname", "", "override the hostname used to derive the agent id (default: OS hostname)")
	root.Flags().StringVar(&cfg.ServerHost, "host", "10.0.4.10", "NetTask/AlertFlow server host")
	root.Flags().IntVar(&cfg.ServerPort, "port", 5005, "NetTask UDP port")
	root.Flags().IntVar(&cfg.AlertPort, "alert-port", 5006, "AlertFlow TCP port")
	root.Flags().StringVar(&cfg.ThresholdPath, "thresholds", "thresholds.json", "threshold config file")

	if err := root.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func run(cfg agent.Config) {
	logger.Banner("NetTask Agent", version)

	a, err := agent.New(cfg, afero.NewOsFs())
	if err != nil {
		// CONFIG_MISSING at startup is fatal (spec.md section 7).
		logger.Fatal("starting agent: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Register(ctx); err != nil {
		// Spec.md section 4.2: on handshake failure the Agent exits, no retry.
		logger.Fatal("registration failed: %v", err)
	}
	logger.Success("agent %s ready", a.ID())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	go func() {
		a.RunMenu(ctx, os.Stdin, os.Stdout, cancel)
		cancel()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("agent error: %v", err)
		}
	case sig := <-sigCh:
		logger.Warn("received signal: %v, shutting down", sig)
		a.Exit()
		cancel()
		<-errCh
	}

	logger.Success("agent stopped")
}
