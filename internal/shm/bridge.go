package shm

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
)

// RTToNonRT is the RT process's outbound snapshot.
type RTToNonRT struct {
	RobotMode   int32
	PositionX   float32
	PositionY   float32
	Velocity    float32
	TimestampNS uint64
}

// NonRTToRT is the Non-RT process's outbound snapshot.
type NonRTToRT struct {
	MaxVelocity float32
	PIDKp       float32
	PIDKi       float32
	PIDKd       float32
	TimestampNS uint64
}

// encode/decode use a fixed little-endian layout so the wire format does
// not depend on Go struct padding, which two independently-compiled
// binaries must not be assumed to agree on.

func encodeRTToNonRT(b []byte, v RTToNonRT) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(v.RobotMode))
	binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(v.PositionX))
	binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(v.PositionY))
	binary.LittleEndian.PutUint32(b[12:16], math.Float32bits(v.Velocity))
	binary.LittleEndian.PutUint64(b[16:24], v.TimestampNS)
}

func decodeRTToNonRT(b []byte) RTToNonRT {
	return RTToNonRT{
		RobotMode:   int32(binary.LittleEndian.Uint32(b[0:4])),
		PositionX:   math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		PositionY:   math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
		Velocity:    math.Float32frombits(binary.LittleEndian.Uint32(b[12:16])),
		TimestampNS: binary.LittleEndian.Uint64(b[16:24]),
	}
}

func encodeNonRTToRT(b []byte, v NonRTToRT) {
	binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(v.MaxVelocity))
	binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(v.PIDKp))
	binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(v.PIDKi))
	binary.LittleEndian.PutUint32(b[12:16], math.Float32bits(v.PIDKd))
	binary.LittleEndian.PutUint64(b[16:24], v.TimestampNS)
}

func decodeNonRTToRT(b []byte) NonRTToRT {
	return NonRTToRT{
		MaxVelocity: math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		PIDKp:       math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		PIDKi:       math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
		PIDKd:       math.Float32frombits(binary.LittleEndian.Uint32(b[12:16])),
		TimestampNS: binary.LittleEndian.Uint64(b[16:24]),
	}
}

// Bridge wraps a Region with the seqlock write/read protocol over the two
// fixed snapshots and both heartbeats.
type Bridge struct {
	region *Region
}

// NewBridge wraps an already-open region.
func NewBridge(region *Region) *Bridge { return &Bridge{region: region} }

// Region exposes the underlying mapping, e.g. for Close/Unlink.
func (b *Bridge) Region() *Region { return b.region }

// InitAsCreator zeroes both snapshot sequence numbers and seeds both
// heartbeats to now. Called once by whichever side wins the race to create
// the region (by contract, the RT process).
func (b *Bridge) InitAsCreator() error {
	zero := make([]byte, AlignmentCacheLine)
	if err := b.region.WriteAt(OffsetRTToNonRT, zero); err != nil {
		return err
	}
	if err := b.region.WriteAt(OffsetNonRTToRT, zero); err != nil {
		return err
	}
	now := uint64(time.Now().UnixNano())
	if err := b.region.AtomicStore64(OffsetRTHeartbeat, now); err != nil {
		return err
	}
	return b.region.AtomicStore64(OffsetNonRTHeart, now)
}

// WriteRTToNonRT performs the seqlock write protocol for the RT side.
func (b *Bridge) WriteRTToNonRT(v RTToNonRT) error {
	base := uint32(OffsetRTToNonRT)
	return b.write(base, func(payload []byte) { encodeRTToNonRT(payload, v) })
}

// ReadRTToNonRT performs the seqlock read protocol for the Non-RT side,
// retrying until a torn read is avoided or retryBound is exhausted.
func (b *Bridge) ReadRTToNonRT(retryBound int) (RTToNonRT, error) {
	var out RTToNonRT
	ok, err := b.read(uint32(OffsetRTToNonRT), retryBound, func(payload []byte) { out = decodeRTToNonRT(payload) })
	if err != nil {
		return out, err
	}
	if !ok {
		return out, rterrors.Wrap(rterrors.ErrTransientIO, "shm: torn read of RT->NonRT snapshot")
	}
	return out, nil
}

// WriteNonRTToRT performs the seqlock write protocol for the Non-RT side.
func (b *Bridge) WriteNonRTToRT(v NonRTToRT) error {
	base := uint32(OffsetNonRTToRT)
	return b.write(base, func(payload []byte) { encodeNonRTToRT(payload, v) })
}

// ReadNonRTToRT performs the seqlock read protocol for the RT side.
func (b *Bridge) ReadNonRTToRT(retryBound int) (NonRTToRT, error) {
	var out NonRTToRT
	ok, err := b.read(uint32(OffsetNonRTToRT), retryBound, func(payload []byte) { out = decodeNonRTToRT(payload) })
	if err != nil {
		return out, err
	}
	if !ok {
		return out, rterrors.Wrap(rterrors.ErrTransientIO, "shm: torn read of NonRT->RT snapshot")
	}
	return out, nil
}

func (b *Bridge) write(base uint32, encode func(payload []byte)) error {
	seqOff := base + fieldSeqOffset
	payloadOff := base + fieldPayloadOffset
	payload := make([]byte, AlignmentCacheLine-fieldPayloadOffset)

	if _, err := b.region.AtomicAdd32(seqOff, 1); err != nil { // now odd
		return err
	}
	encode(payload)
	if err := b.region.WriteAt(payloadOff, payload); err != nil {
		return err
	}
	_, err := b.region.AtomicAdd32(seqOff, 1) // now even
	return err
}

func (b *Bridge) read(base uint32, retryBound int, decode func(payload []byte)) (bool, error) {
	if retryBound <= 0 {
		retryBound = 10
	}
	seqOff := base + fieldSeqOffset
	payloadOff := base + fieldPayloadOffset
	payload := make([]byte, AlignmentCacheLine-fieldPayloadOffset)

	for i := 0; i < retryBound; i++ {
		before, err := b.region.AtomicLoad32(seqOff)
		if err != nil {
			return false, err
		}
		if before%2 == 1 {
			continue // writer in progress
		}
		if err := b.region.ReadAt(payloadOff, payload); err != nil {
			return false, err
		}
		after, err := b.region.AtomicLoad32(seqOff)
		if err != nil {
			return false, err
		}
		if before != after {
			continue
		}
		decode(payload)
		return true, nil
	}
	return false, nil
}

// UpdateRTHeartbeat stamps the RT side's liveness timestamp.
func (b *Bridge) UpdateRTHeartbeat(now time.Time) error {
	return b.region.AtomicStore64(OffsetRTHeartbeat, uint64(now.UnixNano()))
}

// UpdateNonRTHeartbeat stamps the Non-RT side's liveness timestamp.
func (b *Bridge) UpdateNonRTHeartbeat(now time.Time) error {
	return b.region.AtomicStore64(OffsetNonRTHeart, uint64(now.UnixNano()))
}

// PeerRTAlive reports whether the RT side's heartbeat is within the
// timeout, as observed by the Non-RT side.
func (b *Bridge) PeerRTAlive(now time.Time) (bool, error) {
	hb, err := b.region.AtomicLoad64(OffsetRTHeartbeat)
	if err != nil {
		return false, err
	}
	return uint64(now.UnixNano())-hb < HeartbeatTimeoutNS, nil
}

// PeerNonRTAlive reports whether the Non-RT side's heartbeat is within the
// timeout, as observed by the RT side.
func (b *Bridge) PeerNonRTAlive(now time.Time) (bool, error) {
	hb, err := b.region.AtomicLoad64(OffsetNonRTHeart)
	if err != nil {
		return false, err
	}
	return uint64(now.UnixNano())-hb < HeartbeatTimeoutNS, nil
}
