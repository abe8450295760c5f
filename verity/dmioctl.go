package verity

import (
	"fmt"
	"unsafe"

	"rootinit/rerr"

	"golang.org/x/sys/unix"
)

// Minimal subset of the device-mapper ioctl ABI (linux/dm-ioctl.h). No
// pure-Go device-mapper binding exists anywhere in the reference
// corpus or its transitive dependencies, so this talks to /dev/mapper/
// control directly rather than fabricate a wrapper module.
const (
	dmControlPath = "/dev/mapper/control"

	dmIoctlType = 0xfd

	dmVersionCmd    = 0
	dmDevCreateCmd  = 3
	dmDevSuspendCmd = 6
	dmTableLoadCmd  = 9

	dmVersionMajor = 4
	dmVersionMinor = 0
	dmVersionPatch = 0

	dmReadonlyFlag = 1 << 0
	dmSuspendFlag  = 1 << 1

	dmNameLen = 128
	dmUUIDLen = 129
)

// dmIoctl mirrors struct dm_ioctl. Field order and sizes are fixed by
// the kernel ABI and must not change.
type dmIoctl struct {
	Version     [3]uint32
	DataSize    uint32
	DataStart   uint32
	TargetCount uint32
	OpenCount   int32
	Flags       uint32
	EventNr     uint32
	Padding     uint32
	Dev         uint64
	Name        [dmNameLen]byte
	UUID        [dmUUIDLen]byte
	Padding2    [7]byte
}

// dmTargetSpec mirrors struct dm_target_spec, immediately followed in
// the ioctl buffer by the NUL-terminated target params string.
type dmTargetSpec struct {
	SectorStart uint64
	Length      uint64
	Status      int32
	Next        uint32
	TargetType  [16]byte
}

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr uint, size uintptr) uintptr {
	return (uintptr(dir) << 30) | (size << 16) | (uintptr(typ) << 8) | uintptr(nr)
}

func dmIoc(nr uint, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, dmIoctlType, nr, size)
}

// control is a handle on /dev/mapper/control.
type control struct {
	fd int
}

func openControl() (*control, error) {
	fd, err := unix.Open(dmControlPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("verity: open %s: %w", dmControlPath, err)
	}
	return &control{fd: fd}, nil
}

func (c *control) Close() error { return unix.Close(c.fd) }

func newDMIoctl(name string) dmIoctl {
	var h dmIoctl
	h.Version = [3]uint32{dmVersionMajor, dmVersionMinor, dmVersionPatch}
	h.DataSize = uint32(unsafe.Sizeof(h))
	h.DataStart = uint32(unsafe.Sizeof(h))
	copy(h.Name[:], name)
	return h
}

func (c *control) ioctl(cmd uintptr, buf []byte) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), cmd, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return fmt.Errorf("verity: dm ioctl 0x%x: %w (%w)", cmd, errno, rerr.ErrDMError)
	}
	return nil
}

// checkVersion queries the device-mapper driver version, primarily to
// confirm /dev/mapper/control is a live DM control node before use.
func (c *control) checkVersion() error {
	h := newDMIoctl("")
	buf := marshalDMIoctl(h)
	return c.ioctl(dmIoc(dmVersionCmd, unsafe.Sizeof(h)), buf)
}

// createDevice creates an empty (tableless) DM device named name.
func (c *control) createDevice(name string) error {
	h := newDMIoctl(name)
	buf := marshalDMIoctl(h)
	return c.ioctl(dmIoc(dmDevCreateCmd, unsafe.Sizeof(h)), buf)
}

// loadTable loads a single-segment verity table into the named,
// already-created device.
func (c *control) loadTable(name, targetType, params string, sectors uint64, flags uint32) error {
	h := newDMIoctl(name)
	h.TargetCount = 1
	h.Flags = flags

	var spec dmTargetSpec
	spec.SectorStart = 0
	spec.Length = sectors
	copy(spec.TargetType[:], targetType)

	paramsBytes := append([]byte(params), 0)
	// dm_target_spec.next and the whole record must be 8-byte aligned.
	specSize := int(unsafe.Sizeof(spec))
	recordSize := specSize + len(paramsBytes)
	if pad := recordSize % 8; pad != 0 {
		recordSize += 8 - pad
	}
	spec.Next = uint32(recordSize)

	headerSize := int(unsafe.Sizeof(h))
	h.DataSize = uint32(headerSize + recordSize)
	h.DataStart = uint32(headerSize)

	buf := make([]byte, 0, h.DataSize)
	buf = append(buf, marshalDMIoctl(h)...)
	buf = append(buf, marshalTargetSpec(spec)...)
	buf = append(buf, paramsBytes...)
	for len(buf) < int(h.DataSize) {
		buf = append(buf, 0)
	}

	return c.ioctl(dmIoc(dmTableLoadCmd, unsafe.Sizeof(h)), buf)
}

// resume activates a device's freshly-loaded table (DM_DEV_SUSPEND_CMD
// without the suspend flag toggles a device from suspended to active).
func (c *control) resume(name string) error {
	h := newDMIoctl(name)
	buf := marshalDMIoctl(h)
	return c.ioctl(dmIoc(dmDevSuspendCmd, unsafe.Sizeof(h)), buf)
}

func marshalDMIoctl(h dmIoctl) []byte {
	buf := make([]byte, unsafe.Sizeof(h))
	copy(buf, (*[unsafe.Sizeof(dmIoctl{})]byte)(unsafe.Pointer(&h))[:])
	return buf
}

func marshalTargetSpec(s dmTargetSpec) []byte {
	buf := make([]byte, unsafe.Sizeof(s))
	copy(buf, (*[unsafe.Sizeof(dmTargetSpec{})]byte)(unsafe.Pointer(&s))[:])
	return buf
}

// blockDeviceSize returns the size in bytes of the block device at
// path via the BLKGETSIZE64 ioctl — the normative way to size a
// protected partition (spec resolution over reading file metadata).
func blockDeviceSize(path string) (uint64, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("verity: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.BLKGETSIZE64), uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, fmt.Errorf("verity: BLKGETSIZE64 %s: %w", path, errno)
	}
	return size, nil
}
