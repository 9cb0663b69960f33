//go:build unix

package gguf

import (
	"math"
	"os"

	"golang.org/x/sys/unix"
)

func mmapFile(f *os.File, size int64) []byte {
	if size <= 0 || size > math.MaxInt {
		return nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil
	}
	return data
}

func munmap(data []byte) error {
	return unix.Munmap(data)
}
