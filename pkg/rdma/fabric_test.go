package rdma

import (
	"context"
	"testing"
	"time"
)

// TestFabricReadRoundTrip exercises the full simulated sequence: host
// listens and registers a region, the NIC side dials in, the two exchange
// the MR control message, the NIC posts a READ against a sub-range of the
// host's region, and the completion carries back the expected bytes.
func TestFabricReadRoundTrip(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	hostConnCh := make(chan *Conn, 1)
	hostErrCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			hostErrCh <- err
			return
		}
		hostConnCh <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	nicConn, err := Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer nicConn.Close()

	var hostConn *Conn
	select {
	case hostConn = <-hostConnCh:
	case err := <-hostErrCh:
		t.Fatalf("Accept() error = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept() timed out")
	}
	defer hostConn.Close()

	backing := []byte("the quick brown fox jumps over the lazy dog")
	desc := hostConn.RegisterLocal(backing, AccessLocalWrite|AccessRemoteRead)
	if err := hostConn.SendMR(desc); err != nil {
		t.Fatalf("SendMR() error = %v", err)
	}

	gotDesc, err := nicConn.RecvMR()
	if err != nil {
		t.Fatalf("RecvMR() error = %v", err)
	}
	if gotDesc.RKey != desc.RKey || gotDesc.Length != desc.Length {
		t.Fatalf("RecvMR() = %+v, want %+v", gotDesc, desc)
	}
	if hostConn.SendState() != SendMRSent {
		t.Errorf("host SendState() = %s, want MR_SENT", hostConn.SendState())
	}
	if nicConn.RecvState() != RecvMRRecv {
		t.Errorf("nic RecvState() = %s, want MR_RECV", nicConn.RecvState())
	}

	if _, err := nicConn.PostRead(gotDesc, 4, 5); err != nil {
		t.Fatalf("PostRead() error = %v", err)
	}

	wc, ok := nicConn.CompletionQueue().Poll()
	if !ok {
		t.Fatal("CompletionQueue().Poll() reported no completion")
	}
	if wc.Status != nil {
		t.Fatalf("completion Status = %v, want nil", wc.Status)
	}
	if string(wc.Data) != "quick" {
		t.Errorf("completion Data = %q, want %q", wc.Data, "quick")
	}
}

func TestFabricReadRejectsWrongRKey(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	hostConnCh := make(chan *Conn, 1)
	go func() {
		c, _ := ln.Accept()
		hostConnCh <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	nicConn, err := Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer nicConn.Close()

	hostConn := <-hostConnCh
	defer hostConn.Close()

	desc := hostConn.RegisterLocal([]byte("0123456789"), AccessRemoteRead)
	if err := hostConn.SendMR(desc); err != nil {
		t.Fatalf("SendMR() error = %v", err)
	}
	if _, err := nicConn.RecvMR(); err != nil {
		t.Fatalf("RecvMR() error = %v", err)
	}

	bad := desc
	bad.RKey = desc.RKey + 999
	if _, err := nicConn.PostRead(bad, 0, 4); err != nil {
		t.Fatalf("PostRead() error = %v", err)
	}

	wc, ok := nicConn.CompletionQueue().Poll()
	if !ok {
		t.Fatal("CompletionQueue().Poll() reported no completion")
	}
	if wc.Status == nil {
		t.Error("expected a rejected read to complete with a non-nil Status")
	}
}

// TestConnDoneFiresOnPeerClose verifies that Done() closes on the
// surviving side once the peer tears its connection down, without that
// side calling Close itself — the signal the NIC session manager relies
// on to unblock a poller parked at the batch-issue gate.
func TestConnDoneFiresOnPeerClose(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	hostConnCh := make(chan *Conn, 1)
	go func() {
		c, _ := ln.Accept()
		hostConnCh <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	nicConn, err := Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	hostConn := <-hostConnCh

	if err := hostConn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-nicConn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() did not fire after the peer closed")
	}
	nicConn.Close()
}

// TestReadLoopTerminatesOnUnexpectedControlTag covers spec scenario S4:
// a control message whose tag is not MR is a protocol error, and the
// receiving side must terminate that connection.
func TestReadLoopTerminatesOnUnexpectedControlTag(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	hostConnCh := make(chan *Conn, 1)
	go func() {
		c, _ := ln.Accept()
		hostConnCh <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	nicConn, err := Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer nicConn.Close()

	hostConn := <-hostConnCh
	defer hostConn.Close()

	// Send a DONE control message instead of the expected MR — host ->
	// NIC traffic should never carry anything but MR in this
	// implementation (see DESIGN.md: DONE is never originated).
	bad := ControlMessage{Tag: MsgDone}
	hostConn.writeMu.Lock()
	err = writeFrame(hostConn.raw, frameControl, encodeControl(bad))
	hostConn.writeMu.Unlock()
	if err != nil {
		t.Fatalf("write bad control frame: %v", err)
	}

	select {
	case <-nicConn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("nicConn did not terminate after receiving an unexpected control tag")
	}

	if _, err := nicConn.RecvMR(); err == nil {
		t.Error("RecvMR() succeeded on a terminated connection, want error")
	}
}
