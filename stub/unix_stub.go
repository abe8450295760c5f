package stub

import (
	"golang.org/x/sys/unix"
)

// Stub functions link to unix libraries

func Mkdev(major, minor uint32) uint64 {
	return unix.Mkdev(major, minor)
}

func Mknod(path string, mode uint32, dev int) error {
	return unix.Mknod(path, mode, dev)
}
