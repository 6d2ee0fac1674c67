package shm

import (
	"time"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
)

// HandshakeRetryInterval and HandshakeMaxAttempts bound the Non-RT side's
// open retry: 100ms * 50 attempts = 5s total before giving up.
const (
	HandshakeRetryInterval = 100 * time.Millisecond
	HandshakeMaxAttempts   = 50
)

// CreateAsRT creates the bridge region (the RT process always wins the
// creation race by contract) and initializes both snapshots/heartbeats.
func CreateAsRT(path string) (*Bridge, error) {
	region, err := Open(Options{Path: path, Size: RegionSize, Create: true})
	if err != nil {
		return nil, err
	}
	b := NewBridge(region)
	if err := b.InitAsCreator(); err != nil {
		region.Close()
		return nil, err
	}
	return b, nil
}

// OpenAsNonRT retries opening an existing region every HandshakeRetryInterval
// for up to HandshakeMaxAttempts before giving up with ErrTransientIO.
func OpenAsNonRT(path string) (*Bridge, error) {
	var lastErr error
	for attempt := 0; attempt < HandshakeMaxAttempts; attempt++ {
		region, err := Open(Options{Path: path, Size: RegionSize, Create: false})
		if err == nil {
			return NewBridge(region), nil
		}
		lastErr = err
		time.Sleep(HandshakeRetryInterval)
	}
	return nil, rterrors.Wrap(rterrors.ErrTransientIO, "shm: non-rt handshake exhausted retries: "+errString(lastErr))
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
