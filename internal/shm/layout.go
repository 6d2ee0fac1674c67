// Package shm implements the cross-process shared-memory bridge: a POSIX
// shared-memory region carrying two cache-line-aligned snapshot structures
// (RT->Non-RT and Non-RT->RT) and two independent heartbeat words, guarded
// by the seqlock write/read protocol described in the region layout below.
package shm

// Region byte layout. Every offset is cache-line aligned (64 bytes) so
// writes to one snapshot never share a cache line with the peer's reads,
// avoiding false sharing between the two processes.
const (
	AlignmentCacheLine = 64

	OffsetRTToNonRT    = 0 * AlignmentCacheLine
	SizeRTToNonRT      = AlignmentCacheLine // seq + payload, padded to one line
	OffsetNonRTToRT    = 1 * AlignmentCacheLine
	SizeNonRTToRT      = AlignmentCacheLine
	OffsetRTHeartbeat  = 2 * AlignmentCacheLine
	SizeRTHeartbeat    = AlignmentCacheLine
	OffsetNonRTHeart   = 3 * AlignmentCacheLine
	SizeNonRTHeart     = AlignmentCacheLine

	// RegionSize is the total mapped size of the bridge region.
	RegionSize = 4 * AlignmentCacheLine
)

// HeartbeatTimeoutNS is the maximum age a peer's heartbeat may reach before
// the bridge's liveness checks report the peer as not alive.
const HeartbeatTimeoutNS uint64 = 500_000_000 // 500ms

// Within-snapshot field byte offsets (relative to the snapshot's own base
// offset). seq occupies the first 4 bytes of each snapshot so the seqlock
// protocol only ever touches one well-known offset per side.
const (
	fieldSeqOffset     = 0
	fieldPayloadOffset = 4
)
