package rdma

// AccessFlag models the ibv_access_flags bits the spec's memory-region
// descriptor carries (§3 Control Message: "32-bit accessor").
type AccessFlag uint32

const (
	AccessLocalWrite AccessFlag = 1 << iota
	AccessRemoteRead
)

// MemoryDescriptor is a peer region descriptor: virtual address, length,
// remote key, and access flags (spec §3 "Control Message" MR variant).
type MemoryDescriptor struct {
	Addr   uint64
	Length uint32
	RKey   uint32
	Access AccessFlag
}
