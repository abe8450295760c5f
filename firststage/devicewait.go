package firststage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rootinit/devnode"
	"rootinit/rerr"
	"rootinit/sysfsreplay"
	"rootinit/uevent"
)

// sysfsClassBlock is where block device kobjects are discoverable,
// within the 5-component depth bound SUR enforces.
const sysfsClassBlock = "/sys/class/block"

const devBlockDir = "/dev/block"
const devBlockByName = "/dev/block/by-name"

// ensureMountDeviceCreated materializes the device node an fstab
// fs_spec refers to, exactly as the FSMO needs it: "tmpfs" is not a
// block device and is skipped; a fs_spec already present on disk is
// left alone; otherwise the sysfs tree is replayed, narrowed to the
// named device when fs_spec names it directly, or broadened to the
// whole block class when fs_spec goes through /dev/block/by-name and
// the search has to match on the replayed PARTNAME instead.
func ensureMountDeviceCreated(fsSpec string, sock *uevent.Socket, mat *devnode.Materializer) error {
	if fsSpec == "tmpfs" {
		return nil
	}
	if _, err := os.Lstat(fsSpec); err == nil {
		return nil
	}

	searchPath, wantName, byName, err := deviceSearchPlan(fsSpec)
	if err != nil {
		return err
	}

	var match func(uevent.UEvent) bool
	if byName {
		match = func(ev uevent.UEvent) bool { return ev.PartitionName == wantName }
	} else {
		match = func(ev uevent.UEvent) bool { return ev.DevName == wantName }
	}

	predicate := func(ev uevent.UEvent) sysfsreplay.Signal {
		if !match(ev) {
			return sysfsreplay.Continue
		}
		mat.Handle(ev)
		return sysfsreplay.Stop
	}

	if _, err := sysfsreplay.RegenerateUeventForDir(searchPath, sock, predicate); err != nil {
		return fmt.Errorf("firststage: replay uevents for %s: %w", fsSpec, err)
	}

	if _, err := os.Lstat(fsSpec); err != nil {
		return fmt.Errorf("firststage: %s never materialized: %w", fsSpec, rerr.ErrNotFound)
	}
	return nil
}

// deviceSearchPlan decides where to look in sysfs for the kobject that
// will produce fsSpec's device node, and what replayed uevent field to
// match it against: PARTNAME when fs_spec names a by-name symlink
// (the search has to be broadened to the whole block class, since the
// partition name isn't known to be any particular kernel device name),
// DEVNAME when fs_spec already names the kernel device directly.
func deviceSearchPlan(fsSpec string) (searchPath, wantName string, byName bool, err error) {
	if !strings.HasPrefix(fsSpec, devBlockDir) {
		return "", "", false, fmt.Errorf("firststage: fs_spec %q does not start with %s: %w", fsSpec, devBlockDir, rerr.ErrInvalidData)
	}
	rel := strings.TrimPrefix(fsSpec, devBlockDir+"/")
	if strings.HasPrefix(rel, "by-name/") {
		name := strings.TrimPrefix(rel, "by-name/")
		return sysfsClassBlock, name, true, nil
	}
	return filepath.Join(sysfsClassBlock, rel), rel, false, nil
}

// retryRootDevice retries ensureMountDeviceCreated up to 5 times with
// 1 ms sleeps between attempts — the only retry policy in this
// system, reserved for the root device because some buses enumerate
// asynchronously relative to early boot. Every other device fails
// fast.
func retryRootDevice(fsSpec string, sock *uevent.Socket, mat *devnode.Materializer) error {
	const attempts = 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ensureMountDeviceCreated(fsSpec, sock, mat); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < attempts-1 {
			time.Sleep(time.Millisecond)
		}
	}
	return lastErr
}

// nextDMName returns "dm-<N>" with N one above the highest-numbered
// "dm-<N>" entry already present under /dev/block ("dm-0" if there is
// none), so repeated verity device creation within one FSMO run never
// collides. Gaps below the highest number are not reused.
func nextDMName() string {
	return nextDMNameIn(devBlockDir)
}

func nextDMNameIn(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "dm-0"
	}
	next := 0
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "dm-%d", &n); err == nil {
			if n >= next {
				next = n + 1
			}
		}
	}
	return fmt.Sprintf("dm-%d", next)
}
