// Command nic-agent runs the NIC-side RDMA Session Manager (C2) and the
// Periodic Read Scheduler (C3) — spec §4.2.2, §4.3.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/microview/microview/pkg/config"
	"github.com/microview/microview/pkg/latency"
	"github.com/microview/microview/pkg/log"
	"github.com/microview/microview/pkg/metrics"
	"github.com/microview/microview/pkg/rdma"
	"github.com/microview/microview/pkg/scheduler"
	"github.com/microview/microview/pkg/session/nic"
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
	Use:     "nic-agent <listen-port> <sampling_interval_sec> <block_size> <num_blocks>",
	Short:   "MicroView NIC agent: accepts RDMA sessions and schedules periodic reads",
	Version: Version,
	Args:    cobra.ExactArgs(4),
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("nic-agent version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", "", "Optional YAML file of startup overrides")
	rootCmd.Flags().Int("cap", rdma.MaxConnections, "Maximum number of concurrent RDMA connections admitted")
	rootCmd.Flags().String("output-dir", ".", "Directory latency sample files are written to")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "Prometheus /metrics listen address")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func run(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("nic-agent")

	configPath, _ := cmd.Flags().GetString("config")
	file, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	listenPort, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("nic-agent: listen-port: %w", err)
	}
	samplingIntervalSec, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("nic-agent: sampling_interval_sec: %w", err)
	}
	blockSize, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("nic-agent: block_size: %w", err)
	}
	numBlocks, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("nic-agent: num_blocks: %w", err)
	}

	cfg := config.ResolveNICAgent(file, listenPort, samplingIntervalSec, blockSize, numBlocks)

	cap, _ := cmd.Flags().GetInt("cap")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	mgr := nic.NewManager(cap, cfg.NumBlocks, cfg.BlockSize)
	if err := mgr.Listen(fmt.Sprintf(":%d", cfg.ListenPort)); err != nil {
		return fmt.Errorf("nic-agent: %w", err)
	}

	globalMeter := latency.NewMeter()
	ticker := &scheduler.Ticker{
		Interval:    time.Duration(cfg.SamplingIntervalSec) * time.Second,
		Pool:        mgr.Pool,
		GlobalMeter: globalMeter,
	}

	mgr.OnAccept = func(slot *nic.Slot) {
		poller := &scheduler.Poller{
			Slot:        slot,
			GlobalMeter: globalMeter,
			Manager:     mgr,
			OutputDir:   outputDir,
		}
		go poller.Run()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := metrics.Serve(ctx, metricsAddr); err != nil {
			logger.Warn().Err(err).Msg("metrics server exited")
		}
	}()

	go ticker.Run(ctx)

	go func() {
		if err := mgr.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("session manager exited")
		}
	}()

	logger.Info().Str("addr", mgr.Addr()).Int("cap", cap).Int("num_blocks", cfg.NumBlocks).
		Int("block_size", cfg.BlockSize).Int("sampling_interval_sec", cfg.SamplingIntervalSec).
		Msg("nic agent running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	cancel()
	return nil
}
