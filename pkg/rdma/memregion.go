package rdma

import "sync/atomic"

var rkeyCounter uint32

func nextRKey() uint32 {
	return atomic.AddUint32(&rkeyCounter, 1)
}

// MemoryRegion is a registered buffer, standing in for the handle
// ibv_reg_mr returns. Registration happens exactly once per region and
// deregistration (Deregister) exactly once, per spec §5 "Memory regions:
// exclusively owned by their connection; registered exactly once,
// deregistered exactly once."
type MemoryRegion struct {
	data   []byte
	rkey   uint32
	access AccessFlag
}

// RegisterMemory registers buf under access, assigning it a fresh remote
// key. buf is never copied — the region is a view over the caller's
// backing storage (the host agent's mapped shared segment, or one of the
// NIC's landing buffers).
func RegisterMemory(buf []byte, access AccessFlag) *MemoryRegion {
	return &MemoryRegion{
		data:   buf,
		rkey:   nextRKey(),
		access: access,
	}
}

// Descriptor returns the remote-facing handle for this region.
func (m *MemoryRegion) Descriptor() MemoryDescriptor {
	return MemoryDescriptor{
		Addr:   0,
		Length: uint32(len(m.data)),
		RKey:   m.rkey,
		Access: m.access,
	}
}

// RKey reports this region's remote key.
func (m *MemoryRegion) RKey() uint32 {
	return m.rkey
}

// Data returns the backing buffer.
func (m *MemoryRegion) Data() []byte {
	return m.data
}

// ReadAt returns a copy of length bytes at addr, validating that the
// descriptor matches this region's remote key and that the range is in
// bounds — the simulated-fabric equivalent of the RNIC enforcing
// REMOTE_READ protection on an incoming one-sided READ.
func (m *MemoryRegion) ReadAt(rkey uint32, addr uint64, length uint32) ([]byte, bool) {
	if rkey != m.rkey {
		return nil, false
	}
	if m.access&AccessRemoteRead == 0 {
		return nil, false
	}
	end := addr + uint64(length)
	if end > uint64(len(m.data)) {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, m.data[addr:end])
	return out, true
}

// Deregister clears the region's backing reference. It does not free buf
// itself — ownership of the underlying memory (mmap'd segment, or
// malloc'd landing buffer) belongs to the connection that allocated it.
func (m *MemoryRegion) Deregister() {
	m.data = nil
}
