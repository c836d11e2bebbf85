//go:build linux || darwin

package page

import "golang.org/x/sys/unix"

func mmapChunk(n int) ([]byte, error) {
	return unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func munmapChunk(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}
