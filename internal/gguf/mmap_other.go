//go:build !unix

package gguf

import "os"

func mmapFile(f *os.File, size int64) []byte {
	return nil
}

func munmap(data []byte) error {
	return nil
}
