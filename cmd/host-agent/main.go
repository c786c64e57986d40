// Command host-agent runs the Shared-Memory Registry (C1), drives the
// host side of the RDMA Session Manager (C2), and runs the Liveness
// Watcher (C4) — spec §4.1, §4.2.1, §4.4.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/microview/microview/pkg/config"
	"github.com/microview/microview/pkg/controlplane"
	"github.com/microview/microview/pkg/liveness"
	"github.com/microview/microview/pkg/log"
	"github.com/microview/microview/pkg/metrics"
	"github.com/microview/microview/pkg/registry"
	"github.com/microview/microview/pkg/session/host"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "host-agent <DPU-address> <DPU-port> <block_size> <num_blocks>",
	Short:   "MicroView host agent: admits pods, registers shared segments, and connects to the NIC agent",
	Version: Version,
	Args:    cobra.ExactArgs(4),
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("host-agent version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", "", "Optional YAML file of startup overrides")
	rootCmd.Flags().String("registry-addr", "127.0.0.1:0", "Address the shared-memory registry listens on")
	rootCmd.Flags().String("port-file", "", "Path the registry's resolved port is written to")
	rootCmd.Flags().String("data-dir", ".", "Directory the admission audit database is stored in")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus /metrics listen address")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func run(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("host-agent")

	configPath, _ := cmd.Flags().GetString("config")
	file, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	dpuPort, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("host-agent: DPU-port: %w", err)
	}
	blockSize, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("host-agent: block_size: %w", err)
	}
	numBlocks, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("host-agent: num_blocks: %w", err)
	}

	cfg := config.ResolveHostAgent(file, args[0], dpuPort, blockSize, numBlocks)
	nicAddr := fmt.Sprintf("%s:%d", cfg.DPUAddress, cfg.DPUPort)

	dataDir, _ := cmd.Flags().GetString("data-dir")
	store, err := controlplane.OpenStore(dataDir)
	if err != nil {
		return fmt.Errorf("host-agent: %w", err)
	}
	defer store.Close()

	table := controlplane.NewTable(store)
	watcher := liveness.New(table)

	registryAddr, _ := cmd.Flags().GetString("registry-addr")
	portFile, _ := cmd.Flags().GetString("port-file")
	if portFile == "" {
		portFile = ".port"
	}

	srv := &registry.Server{
		BlockSize:    cfg.BlockSize,
		PortFilePath: portFile,
	}
	srv.OnRegistered = func(podID uint32, segmentName string) {
		ctx := context.Background()
		endpoint, err := host.Connect(ctx, podID, segmentName, cfg.BlockSize, nicAddr)
		if err != nil {
			logger.Error().Err(err).Uint32("pod_id", podID).Msg("failed to build RDMA session for admitted pod")
			return
		}
		if err := table.Insert(podID, segmentName, endpoint); err != nil {
			logger.Error().Err(err).Uint32("pod_id", podID).Msg("failed to record admitted pod")
			endpoint.Disconnect()
		}
	}

	if err := srv.Listen(registryAddr); err != nil {
		return fmt.Errorf("host-agent: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	go func() {
		if err := metrics.Serve(ctx, metricsAddr); err != nil {
			logger.Warn().Err(err).Msg("metrics server exited")
		}
	}()

	go func() {
		if err := srv.Run(); err != nil {
			logger.Warn().Err(err).Msg("registry server exited")
		}
	}()

	go watcher.Run(ctx)

	logger.Info().Str("registry_addr", srv.Addr()).Str("nic_addr", nicAddr).
		Int("block_size", cfg.BlockSize).Int("num_blocks", cfg.NumBlocks).
		Msg("host agent running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	cancel()
	srv.Close()
	return nil
}
