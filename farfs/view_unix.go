//go:build unix

package farfs

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/meigma/far/internal/sizing"
)

// mapRange maps [off, off+length) of f copy-on-write. The mapping starts on
// a page boundary; the view exposes only the requested bytes. Filesystems
// that cannot be mapped fall back to a copy.
func mapRange(f *os.File, off, length int64) (*View, error) {
	if length == 0 {
		return &View{data: []byte{}}, nil
	}

	page := int64(os.Getpagesize())
	start := off - off%page
	delta := off - start
	size, err := sizing.ToInt(uint64(delta+length), errViewTooLarge)
	if err != nil {
		return nil, err
	}

	mapped, err := unix.Mmap(int(f.Fd()), start, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
	if err != nil {
		return copyRange(f, off, length)
	}
	return &View{
		data:    mapped[delta : delta+length : delta+length],
		release: func() error { return unix.Munmap(mapped) },
	}, nil
}
