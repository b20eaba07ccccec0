//go:build unix

package hostmem

import (
	"github.com/pkg/errors"
	"github.com/tinykern/kalloc/mem"
	"golang.org/x/sys/unix"
)

func mapAnonymous(size mem.Size) ([]byte, error) {
	mapping, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap of %s failed", size)
	}
	return mapping, nil
}

func unmap(mapping []byte) error {
	return errors.Wrap(unix.Munmap(mapping), "munmap failed")
}
