// Package pager owns the single on-disk file backing a database: fixed
// size page I/O, allocation, fsync, and a reference-counted handle for
// memory-mapping the snapshot region read-only.
package pager

import (
	"fmt"
	"os"
	"sync"

	"github.com/bobboyms/storage-engine/pkg/rerrors"
)

const (
	MinPageSize = 4096
	MaxPageSize = 65536
)

// ValidPageSize reports whether size is a power of two in [MinPageSize, MaxPageSize].
func ValidPageSize(size uint32) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}

// Pager owns the file descriptor backing a database.
type Pager struct {
	mu       sync.RWMutex
	file     *os.File
	pageSize uint32
}

// Open opens (or, if create is true, creates) the file at path with the
// given page size.
func Open(path string, pageSize uint32, create bool) (*Pager, error) {
	if !ValidPageSize(pageSize) {
		return nil, &rerrors.InvalidPageSizeError{PageSize: pageSize}
	}

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, &rerrors.IoError{Op: "open", Err: err}
	}

	return &Pager{file: f, pageSize: pageSize}, nil
}

// PageSize returns the configured page size in bytes.
func (p *Pager) PageSize() uint32 {
	return p.pageSize
}

// ReadPage reads page n (0-based) into a freshly allocated buffer.
func (p *Pager) ReadPage(n uint64) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	buf := make([]byte, p.pageSize)
	off := int64(n) * int64(p.pageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, &rerrors.IoError{Op: "read_page", Err: err}
	}
	return buf, nil
}

// WritePage writes exactly one page's worth of bytes at page n.
func (p *Pager) WritePage(n uint64, data []byte) error {
	if uint32(len(data)) != p.pageSize {
		return &rerrors.InternalError{Reason: fmt.Sprintf("write_page: expected %d bytes, got %d", p.pageSize, len(data))}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	off := int64(n) * int64(p.pageSize)
	if _, err := p.file.WriteAt(data, off); err != nil {
		return &rerrors.IoError{Op: "write_page", Err: err}
	}
	return nil
}

// WritePages writes a contiguous run of pages starting at startPage.
// len(data) must be a multiple of the page size.
func (p *Pager) WritePages(startPage uint64, data []byte) error {
	if uint32(len(data))%p.pageSize != 0 {
		return &rerrors.InternalError{Reason: "write_pages: data is not a multiple of the page size"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	off := int64(startPage) * int64(p.pageSize)
	if _, err := p.file.WriteAt(data, off); err != nil {
		return &rerrors.IoError{Op: "write_pages", Err: err}
	}
	return nil
}

// AllocatePages extends the file by k pages, returning the first page index
// of the newly allocated range.
func (p *Pager) AllocatePages(k uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := p.file.Stat()
	if err != nil {
		return 0, &rerrors.IoError{Op: "stat", Err: err}
	}

	curPages := uint64(info.Size()) / uint64(p.pageSize)
	newSize := int64(curPages+k) * int64(p.pageSize)
	if err := p.file.Truncate(newSize); err != nil {
		return 0, &rerrors.IoError{Op: "truncate", Err: err}
	}
	return curPages, nil
}

// Sync fsyncs the underlying file.
func (p *Pager) Sync() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.file.Sync(); err != nil {
		return &rerrors.IoError{Op: "fsync", Err: err}
	}
	return nil
}

// FileSize returns the current file size in bytes.
func (p *Pager) FileSize() (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info, err := p.file.Stat()
	if err != nil {
		return 0, &rerrors.IoError{Op: "stat", Err: err}
	}
	return info.Size(), nil
}

// PageCount returns the current number of whole pages in the file.
func (p *Pager) PageCount() (uint64, error) {
	size, err := p.FileSize()
	if err != nil {
		return 0, err
	}
	return uint64(size) / uint64(p.pageSize), nil
}

// Close closes the underlying file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.file.Close(); err != nil {
		return &rerrors.IoError{Op: "close", Err: err}
	}
	return nil
}

// File exposes the raw descriptor. The mmap implementations in this
// package (mmap_unix.go / mmap_other.go) read p.file directly.
func (p *Pager) File() *os.File {
	return p.file
}
