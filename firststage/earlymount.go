// Package firststage orchestrates the early pseudo-mounts and the
// first-stage mount/pivot that hands control to the slot-selected,
// possibly verity-protected root filesystem.
package firststage

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"rootinit/internal/ids"

	"golang.org/x/sys/unix"
)

// charDevice is one canonical character device node mknod'd during
// early mount.
type charDevice struct {
	path  string
	major uint32
	minor uint32
	mode  uint32
}

var canonicalCharDevices = []charDevice{
	{"/dev/kmsg", 1, 11, 0o600},
	{"/dev/random", 1, 8, 0o666},
	{"/dev/urandom", 1, 9, 0o666},
	{"/dev/console", 5, 1, 0o666},
	{"/dev/ptmx", 5, 2, 0o666},
	{"/dev/null", 1, 3, 0o666},
	{"/dev/zero", 1, 5, 0o666},
	{"/dev/full", 1, 7, 0o666},
	{"/dev/tty", 5, 0, 0o666},
}

// EarlyMount performs the minimum mounts needed to get started:
// devtmpfs/devpts/proc/sysfs, canonical character devices, the tmpfs
// scratch areas, the /new_root staging bind mount, and the
// /dev/mapper/control node. Failures are collected rather than
// aborting — the caller decides which, if any, are fatal.
func EarlyMount() []string {
	var errs []string
	record := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	unix.Umask(0)

	if err := unix.Mount("devtmpfs", "/dev", "devtmpfs", unix.MS_NOSUID, "mode=0755"); err != nil {
		record("mount devtmpfs on /dev: %v", err)
	}
	if err := os.Mkdir("/dev/pts", 0o755); err != nil && !os.IsExist(err) {
		record("mkdir /dev/pts: %v", err)
	}
	if err := os.Mkdir("/dev/socket", 0o755); err != nil && !os.IsExist(err) {
		record("mkdir /dev/socket: %v", err)
	}
	if err := os.Mkdir("/dev/dm-user", 0o755); err != nil && !os.IsExist(err) {
		record("mkdir /dev/dm-user: %v", err)
	}
	if err := unix.Mount("devpts", "/dev/pts", "devpts", 0, ""); err != nil {
		record("mount devpts: %v", err)
	}

	procData := fmt.Sprintf("hidepid=2,gid=%d", ids.ReadProc)
	if err := unix.Mount("proc", "/proc", "proc", 0, procData); err != nil {
		record("mount proc (is it enabled in the kernel?): %v", err)
	}
	if err := os.Chmod("/proc/cmdline", 0o440); err != nil {
		record("chmod /proc/cmdline: %v", err)
	}
	if err := os.Chmod("/proc/bootconfig", 0o440); err != nil {
		record("chmod /proc/bootconfig (enable CONFIG_BOOT_CONFIG if this fails): %v", err)
	}
	if err := unix.Setgroups([]int{int(ids.ReadProc)}); err != nil {
		record("setgroups: %v", err)
	}

	if err := unix.Mount("sysfs", "/sys", "sysfs", 0, ""); err != nil {
		record("mount sysfs: %v", err)
	}

	for _, cd := range canonicalCharDevices {
		dev := unix.Mkdev(cd.major, cd.minor)
		if err := unix.Mknod(cd.path, unix.S_IFCHR|cd.mode, int(dev)); err != nil && err != unix.EEXIST {
			record("mknod %s: %v", cd.path, err)
		}
	}

	if err := unix.Mount("tmpfs", "/mnt", "tmpfs", unix.MS_NOEXEC|unix.MS_NOSUID|unix.MS_NODEV, "mode=0755,uid=0,gid=1000"); err != nil {
		record("mount tmpfs on /mnt: %v", err)
	}
	if err := unix.Mount("tmpfs", "/run", "tmpfs", unix.MS_NOEXEC|unix.MS_NOSUID|unix.MS_NODEV, "mode=0755,uid=0,nodev,nosuid,strictatime"); err != nil {
		record("mount tmpfs on /run: %v", err)
	}
	// Isolated device extensions are mounted under /idex.
	if err := unix.Mount("tmpfs", "/idex", "tmpfs", unix.MS_NOSUID, "mode=0755,uid=0,gid=1000"); err != nil {
		record("mount tmpfs on /idex: %v", err)
	}

	if err := os.Mkdir("/new_root", 0o755); err != nil && !os.IsExist(err) {
		record("mkdir /new_root: %v", err)
	}
	// Bind-mounting /new_root to itself lets it later be re-mounted
	// with MS_MOVE once the real root is mounted under it.
	if err := unix.Mount("/new_root", "/new_root", "", unix.MS_BIND, ""); err != nil {
		record("bind mount /new_root to itself: %v", err)
	}

	if err := createDevMapperControl(); err != nil {
		record("%v", err)
	}

	return errs
}

// createDevMapperControl scans /proc/misc for the device-mapper minor
// number and creates /dev/mapper/control with major 10.
func createDevMapperControl() error {
	raw, err := os.ReadFile("/proc/misc")
	if err != nil {
		return fmt.Errorf("read /proc/misc: %w", err)
	}

	var minor uint32
	found := false
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[1] != "device-mapper" {
			continue
		}
		v, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return fmt.Errorf("parse device-mapper minor from %q: %w", line, err)
		}
		minor = uint32(v)
		found = true
		break
	}
	if !found {
		return fmt.Errorf("device-mapper not found in /proc/misc")
	}

	if err := os.Mkdir("/dev/mapper", 0o755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("mkdir /dev/mapper: %w", err)
	}
	dev := unix.Mkdev(10, minor)
	if err := unix.Mknod("/dev/mapper/control", unix.S_IFCHR|0o600, int(dev)); err != nil && err != unix.EEXIST {
		return fmt.Errorf("mknod /dev/mapper/control: %w", err)
	}
	return nil
}
