//go:build unix

package pager

import (
	"golang.org/x/sys/unix"

	"github.com/bobboyms/storage-engine/pkg/rerrors"
)

// mmapRegion memory-maps startPage..startPage+pageCount read-only. Grounded
// on the single-file mmap pattern bbolt uses for its data file (see
// other_examples/898c1d92_coyove-bbolt__tx.go.go): one unix.Mmap call
// covering the mapped byte range, unmapped on release.
func mmapRegion(p *Pager, startPage, pageCount uint64) ([]byte, func() error, error) {
	off := int64(startPage) * int64(p.pageSize)
	length := int(pageCount) * int(p.pageSize)
	if length == 0 {
		return nil, func() error { return nil }, nil
	}

	data, err := unix.Mmap(int(p.file.Fd()), off, length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, &rerrors.IoError{Op: "mmap", Err: err}
	}

	unmap := func() error {
		if err := unix.Munmap(data); err != nil {
			return &rerrors.IoError{Op: "munmap", Err: err}
		}
		return nil
	}
	return data, unmap, nil
}
