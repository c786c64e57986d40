// Command pod is a minimal demo metric producer: it registers with a
// host agent's Shared-Memory Registry, maps the segment it is handed,
// and periodically writes a sample payload into it. The pod's actual
// metric-producer logic is an external collaborator (spec §1
// Non-goals) — this binary exists only to exercise the registration
// round trip end to end.
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/microview/microview/pkg/log"
	"github.com/microview/microview/pkg/shm"
)

const nameFieldSize = 256

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
	Use:     "pod <host-address>",
	Short:   "Demo pod: register with the host agent and write sample payloads into shared memory",
	Version: Version,
	Args:    cobra.ExactArgs(1),
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("pod version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().Int("segment-size", 1024, "Expected size of the shared segment, in bytes")
	rootCmd.Flags().Duration("write-interval", time.Second, "How often to write a sample payload")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func run(cmd *cobra.Command, args []string) error {
	podID := uint32(os.Getpid())
	logger := log.WithPodID(podID)

	segmentSize, _ := cmd.Flags().GetInt("segment-size")
	writeInterval, _ := cmd.Flags().GetDuration("write-interval")

	name, err := register(args[0], podID)
	if err != nil {
		return fmt.Errorf("pod: %w", err)
	}
	logger.Info().Str("segment_name", name).Msg("registered with host agent")

	segment, data, err := shm.Open(name, segmentSize)
	if err != nil {
		return fmt.Errorf("pod: map segment %s: %w", name, err)
	}
	defer shm.Unmap(data)
	defer segment.Close()

	ticker := time.NewTicker(writeInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var seq uint64
	for {
		select {
		case <-ticker.C:
			seq++
			writeSample(data, seq)
			logger.Debug().Uint64("seq", seq).Msg("wrote sample")
		case <-sigCh:
			logger.Info().Msg("shutting down")
			return nil
		}
	}
}

// register performs the 4-bytes-in, 256-bytes-out admission handshake
// (spec §4.1 "Contract", §6 "Host registry TCP wire").
func register(addr string, podID uint32) (string, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial registry: %w", err)
	}
	defer conn.Close()

	var req [4]byte
	binary.BigEndian.PutUint32(req[:], podID)
	if _, err := conn.Write(req[:]); err != nil {
		return "", fmt.Errorf("send pod id: %w", err)
	}

	var reply [nameFieldSize]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return "", fmt.Errorf("receive segment name: %w", err)
	}
	return strings.TrimRight(string(reply[:]), "\x00"), nil
}

// writeSample writes a tiny, fixed-format payload so a human inspecting
// the segment with od(1) can see liveness: an 8-byte big-endian sequence
// number followed by the current time in RFC3339.
func writeSample(data []byte, seq uint64) {
	if len(data) < 8 {
		return
	}
	binary.BigEndian.PutUint64(data[:8], seq)
	payload := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	n := copy(data[8:], payload)
	for i := 8 + n; i < len(data); i++ {
		data[i] = 0
	}
}
