package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coraldb/coral/pkg/api"
	"github.com/coraldb/coral/pkg/log"
	"github.com/coraldb/coral/pkg/maintenance"
	"github.com/coraldb/coral/pkg/manager"
	"github.com/coraldb/coral/pkg/metrics"
	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Start and run a CoralDB node",
}

var (
	nodeStartAdminAddr  string
	nodeStartHealthAddr string
	nodeStartLocalAddr  string
)

// nodeStartCmd is the recovery-and-boot sequence wired to a process: it
// loads the node identity persisted by `cluster bootstrap`/`cluster join`
// (<data_dir>/node.yaml), resumes the already-initialized Raft instance
// (hashicorp/raft's own recovery replays its log/snapshot store into the
// StateMachine before NewRaft returns), and only then opens the Admin
// RPC and health/metrics surfaces.
var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Resume an already-bootstrapped-or-joined node and serve RPCs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadNodeConfig(dataDirFlag)
		if err != nil {
			return fmt.Errorf("failed to load node identity from %s: %w", dataDirFlag, err)
		}

		logger := log.WithComponent("node").With().Str("node_id", cfg.NodeID).Logger()

		mgr, err := manager.NewManager(&manager.Config{
			NodeID:   cfg.NodeID,
			BindAddr: cfg.BindAddr,
			DataDir:  dataDirFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}
		if err := mgr.Start(); err != nil {
			return fmt.Errorf("failed to start raft: %w", err)
		}

		adminServer, err := api.NewServer(mgr)
		if err != nil {
			return fmt.Errorf("failed to create admin rpc server: %w", err)
		}
		go func() {
			if err := adminServer.Start(nodeStartAdminAddr); err != nil {
				logger.Error().Err(err).Msg("admin rpc server stopped")
			}
		}()

		go func() {
			if err := adminServer.StartReadOnly(nodeStartLocalAddr); err != nil {
				logger.Error().Err(err).Msg("read-only rpc listener stopped")
			}
		}()

		healthServer := api.NewHealthServer(mgr)
		go func() {
			if err := healthServer.Start(nodeStartHealthAddr); err != nil {
				logger.Error().Err(err).Msg("health server stopped")
			}
		}()

		maint := maintenance.NewLoop(mgr)
		maint.Start()

		metrics.SetVersion(version)
		metrics.RegisterComponent("raft", false, "starting")
		metrics.RegisterComponent("storage", false, "starting")
		metrics.RegisterComponent("apply", false, "starting")
		collector := manager.NewMetricsCollector(mgr)
		collector.Start()

		logger.Info().
			Str("raft_addr", cfg.BindAddr).
			Str("admin_addr", nodeStartAdminAddr).
			Str("health_addr", nodeStartHealthAddr).
			Msg("node started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("shutting down")
		collector.Stop()
		maint.Stop()
		adminServer.Stop()
		healthServer.Stop()
		if err := mgr.Shutdown(); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	},
}

func init() {
	nodeStartCmd.Flags().StringVar(&nodeStartAdminAddr, "admin-addr", "127.0.0.1:7700", "Admin RPC (gRPC) listen address")
	nodeStartCmd.Flags().StringVar(&nodeStartHealthAddr, "health-addr", "127.0.0.1:7701", "health/readiness/metrics HTTP listen address")
	nodeStartCmd.Flags().StringVar(&nodeStartLocalAddr, "local-addr", "127.0.0.1:7702", "loopback read-only RPC listen address (no TLS, Info/Read only)")

	nodeCmd.AddCommand(nodeStartCmd)
}
