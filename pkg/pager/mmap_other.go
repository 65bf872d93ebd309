//go:build !unix

package pager

import "github.com/bobboyms/storage-engine/pkg/rerrors"

// mmapRegion falls back to a plain read on platforms without a unix-style
// mmap syscall (spec.md §4.1 only requires "a handle usable to memory-map",
// not that the implementation be a true OS mapping on every GOOS).
func mmapRegion(p *Pager, startPage, pageCount uint64) ([]byte, func() error, error) {
	length := int(pageCount) * int(p.pageSize)
	if length == 0 {
		return nil, func() error { return nil }, nil
	}

	buf := make([]byte, length)
	off := int64(startPage) * int64(p.pageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, nil, &rerrors.IoError{Op: "read_snapshot_region", Err: err}
	}
	return buf, func() error { return nil }, nil
}
