package registry

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/microview/microview/pkg/shm"
)

func TestMain(m *testing.M) {
	shm.Dir = os.TempDir()
	os.Exit(m.Run())
}

func TestRegistrationRoundTrip(t *testing.T) {
	portFile := filepath.Join(t.TempDir(), ".port")
	registered := make(chan uint32, 1)

	srv := &Server{
		BlockSize:    1024,
		PortFilePath: portFile,
		OnRegistered: func(podID uint32, segmentName string) {
			registered <- podID
		},
	}
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer srv.Close()
	go srv.Run()

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	var req [4]byte
	binary.BigEndian.PutUint32(req[:], 99)
	if _, err := conn.Write(req[:]); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var reply [nameFieldSize]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	name := strings.TrimRight(string(reply[:]), "\x00")
	if name != "shm-99" {
		t.Errorf("segment name = %q, want %q", name, "shm-99")
	}
	defer shm.Unlink(name)

	select {
	case podID := <-registered:
		if podID != 99 {
			t.Errorf("OnRegistered podID = %d, want 99", podID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnRegistered was not called")
	}

	info, err := os.Stat(filepath.Join(shm.Dir, name))
	if err != nil {
		t.Fatalf("shared segment was not created: %v", err)
	}
	if info.Size() != 1024 {
		t.Errorf("segment size = %d, want 1024", info.Size())
	}

	portBytes, err := os.ReadFile(portFile)
	if err != nil {
		t.Fatalf("ReadFile(.port) error = %v", err)
	}
	port, err := strconv.Atoi(string(portBytes))
	if err != nil {
		t.Fatalf(".port contents %q not a decimal integer: %v", portBytes, err)
	}
	if port <= 0 {
		t.Errorf("port = %d, want positive", port)
	}
}
