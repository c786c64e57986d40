// Package registry implements the Shared-Memory Registry (C1, spec
// §4.1): a local TCP channel that admits pods, allocates a named shared
// segment per pod, and returns its name.
package registry

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/rs/zerolog"

	"github.com/microview/microview/pkg/log"
	"github.com/microview/microview/pkg/metrics"
	"github.com/microview/microview/pkg/shm"
)

const nameFieldSize = 256

// Server is the host registry: it listens for pod admissions and, on
// success, hands the pod id and segment name to OnRegistered so the
// caller can build the RDMA session (pkg/session/host).
type Server struct {
	BlockSize    int
	PortFilePath string
	OnRegistered func(podID uint32, segmentName string)

	ln net.Listener
}

// Listen binds addr (spec §4.1 "Listens on a TCP endpoint") and writes
// the resolved ephemeral port to PortFilePath, unsuffixed, no newline
// (spec §6 "Port-advertisement file").
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("registry: listen: %w", err)
	}
	s.ln = ln

	port := ln.Addr().(*net.TCPAddr).Port
	if s.PortFilePath != "" {
		if err := os.WriteFile(s.PortFilePath, []byte(fmt.Sprintf("%d", port)), 0644); err != nil {
			ln.Close()
			return fmt.Errorf("registry: write port file: %w", err)
		}
	}

	log.WithComponent("registry").Info().Int("port", port).Msg("shared-memory registry listening")
	return nil
}

// Addr reports the bound listen address.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Run accepts connections, spawning one worker goroutine per admission
// (spec §4.1 "Concurrency: one worker per accepted connection") until the
// listener is closed.
func (s *Server) Run() error {
	logger := log.WithComponent("registry")
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn, logger)
	}
}

// Close stops accepting new admissions.
func (s *Server) Close() error {
	return s.ln.Close()
}

// handleConn services exactly one admission: 4 bytes of pod id in, 256
// bytes of NUL-padded segment name out (spec §4.1, §6). Any failure
// aborts only this goroutine — the listener keeps serving other pods
// (spec §4.1 "Errors").
func (s *Server) handleConn(conn net.Conn, logger zerolog.Logger) {
	defer conn.Close()

	var buf [4]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		logger.Warn().Err(err).Msg("failed to read pod id")
		metrics.RegistrationFailuresTotal.WithLabelValues("recv_failed").Inc()
		return
	}
	podID := binary.BigEndian.Uint32(buf[:])

	name := shm.Name(podID)
	segment, err := shm.Create(name, s.BlockSize)
	if err != nil {
		logger.Warn().Err(err).Uint32("pod_id", podID).Msg("failed to create shared segment")
		metrics.RegistrationFailuresTotal.WithLabelValues("segment_create_failed").Inc()
		return
	}
	segment.Close()

	var reply [nameFieldSize]byte
	copy(reply[:], name)
	if _, err := conn.Write(reply[:]); err != nil {
		logger.Warn().Err(err).Uint32("pod_id", podID).Msg("failed to send segment name")
		metrics.RegistrationFailuresTotal.WithLabelValues("send_failed").Inc()
		shm.Unlink(name)
		return
	}

	metrics.PodsRegisteredTotal.Inc()
	logger.Info().Uint32("pod_id", podID).Str("segment_name", name).Msg("admitted pod")

	if s.OnRegistered != nil {
		s.OnRegistered(podID, name)
	}
}
