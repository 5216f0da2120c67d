// ABOUTME: Memory-mapped raw image files
// ABOUTME: Maps a flat memory file read-only as a single image segment

package memimage

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// OpenRaw maps the file at path read-only and exposes it as a single
// segment starting at base. The caller must Close the image.
func OpenRaw(path string, base Address, params Params) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return New(params)
	}
	if size < 0 || size != int64(int(size)) {
		return nil, errors.Errorf("mmap: file %q has unusable size %d", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %q", path)
	}

	im, err := New(params, Segment{Addr: base, Data: data})
	if err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}
	im.closer = func() error { return unix.Munmap(data) }
	return im, nil
}
