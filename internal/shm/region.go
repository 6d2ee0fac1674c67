//go:build !js || !wasm

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/fenwick-robotics/rtstack/internal/rterrors"
)

// Region is a POSIX shared-memory mapping: a regular file under /dev/shm
// (or os.TempDir when /dev/shm is unavailable), mmap'd MAP_SHARED so both
// processes observe the same bytes. This is the hardware-abstraction layer
// the rest of this package builds the bridge snapshot protocol on top of.
type Region struct {
	path    string
	file    *os.File
	data    []byte
	size    uint32
	creator bool
}

// DefaultPath returns the default bridge shared-memory path.
func DefaultPath(name string) string {
	if _, err := os.Stat("/dev/shm"); err == nil {
		return filepath.Join("/dev/shm", name)
	}
	return filepath.Join(os.TempDir(), name)
}

// Options configures opening or creating a region.
type Options struct {
	Path   string
	Size   uint32
	Create bool
}

// Open opens or creates a shared-memory region. The creator (Create=true)
// is responsible for Unlink on shutdown.
func Open(opts Options) (*Region, error) {
	if opts.Path == "" {
		return nil, rterrors.Wrap(rterrors.ErrPolicyInvalid, "shm: path required")
	}

	path := filepath.Clean(opts.Path)
	flags := os.O_RDWR
	if opts.Create {
		flags |= os.O_CREATE
	}

	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, rterrors.Wrap(rterrors.ErrTransientIO, fmt.Sprintf("shm: open %s: %v", path, err))
	}

	if opts.Create {
		if opts.Size == 0 {
			_ = file.Close()
			return nil, rterrors.Wrap(rterrors.ErrPolicyInvalid, "shm: size required when creating")
		}
		if err := file.Truncate(int64(opts.Size)); err != nil {
			_ = file.Close()
			return nil, rterrors.Wrap(rterrors.ErrTransientIO, fmt.Sprintf("shm: truncate: %v", err))
		}
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, rterrors.Wrap(rterrors.ErrTransientIO, fmt.Sprintf("shm: stat: %v", err))
	}
	if info.Size() == 0 {
		_ = file.Close()
		return nil, rterrors.Wrap(rterrors.ErrTransientIO, "shm: file has zero size")
	}
	size := uint32(info.Size())

	data, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, rterrors.Wrap(rterrors.ErrTransientIO, fmt.Sprintf("shm: mmap: %v", err))
	}

	return &Region{path: path, file: file, data: data, size: size, creator: opts.Create}, nil
}

// Size returns the mapped region size in bytes.
func (r *Region) Size() uint32 { return r.size }

// ReadAt copies len(dest) bytes starting at offset into dest.
func (r *Region) ReadAt(offset uint32, dest []byte) error {
	if offset+uint32(len(dest)) > r.size {
		return rterrors.ErrCapacityExceeded
	}
	copy(dest, r.data[offset:offset+uint32(len(dest))])
	return nil
}

// WriteAt copies src into the region starting at offset.
func (r *Region) WriteAt(offset uint32, src []byte) error {
	if offset+uint32(len(src)) > r.size {
		return rterrors.ErrCapacityExceeded
	}
	copy(r.data[offset:offset+uint32(len(src))], src)
	return nil
}

// AtomicLoad32 performs an atomic 4-byte-aligned load.
func (r *Region) AtomicLoad32(offset uint32) (uint32, error) {
	p, err := r.ptr32At(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(p)), nil
}

// AtomicStore32 performs an atomic 4-byte-aligned store.
func (r *Region) AtomicStore32(offset uint32, val uint32) error {
	p, err := r.ptr32At(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(p), val)
	return nil
}

// AtomicAdd32 performs an atomic 4-byte-aligned add, returning the new value.
func (r *Region) AtomicAdd32(offset uint32, delta uint32) (uint32, error) {
	p, err := r.ptr32At(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint32((*uint32)(p), delta), nil
}

// AtomicLoad64 performs an atomic 8-byte-aligned load, used for heartbeats.
func (r *Region) AtomicLoad64(offset uint32) (uint64, error) {
	p, err := r.ptr64At(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint64((*uint64)(p)), nil
}

// AtomicStore64 performs an atomic 8-byte-aligned store.
func (r *Region) AtomicStore64(offset uint32, val uint64) error {
	p, err := r.ptr64At(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint64((*uint64)(p), val)
	return nil
}

// Close unmaps the region and closes the backing file.
func (r *Region) Close() error {
	var err error
	if r.data != nil {
		if unmapErr := syscall.Munmap(r.data); unmapErr != nil {
			err = unmapErr
		}
		r.data = nil
	}
	if r.file != nil {
		if closeErr := r.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		r.file = nil
	}
	return err
}

// Unlink removes the backing file. Only the creator should call this, and
// only after Close.
func (r *Region) Unlink() error {
	if !r.creator {
		return nil
	}
	return os.Remove(r.path)
}

func (r *Region) ptr32At(offset uint32) (unsafe.Pointer, error) {
	if offset+4 > r.size {
		return nil, rterrors.ErrCapacityExceeded
	}
	if offset%4 != 0 {
		return nil, rterrors.Wrap(rterrors.ErrPolicyInvalid, "shm: misaligned 32-bit offset")
	}
	return unsafe.Pointer(&r.data[offset]), nil
}

func (r *Region) ptr64At(offset uint32) (unsafe.Pointer, error) {
	if offset+8 > r.size {
		return nil, rterrors.ErrCapacityExceeded
	}
	if offset%8 != 0 {
		return nil, rterrors.Wrap(rterrors.ErrPolicyInvalid, "shm: misaligned 64-bit offset")
	}
	return unsafe.Pointer(&r.data[offset]), nil
}
