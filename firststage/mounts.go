package firststage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// MountEntry is one parsed line of /proc/mounts.
type MountEntry struct {
	Device     string
	Mountpoint string
	FsType     string
}

// getAllMounts parses /proc/mounts, in file order.
func getAllMounts(path string) ([]MountEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("firststage: open %s: %w", path, err)
	}
	defer f.Close()
	return parseMounts(f)
}

func parseMounts(r io.Reader) ([]MountEntry, error) {
	var mounts []MountEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mounts = append(mounts, MountEntry{Device: fields[0], Mountpoint: fields[1], FsType: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("firststage: scan mounts: %w", err)
	}
	return mounts, nil
}

// planMoves selects, in file order, the mounts that need to move into
// newRoot: neither "/" nor newRoot itself, and not already nested
// under a mount this same pass decided to move (moving the parent
// already carries its children along).
func planMoves(mounts []MountEntry, newRoot string) []MountEntry {
	var toMove []MountEntry
	alreadyMoved := func(mp string) bool {
		for _, m := range toMove {
			if mp == m.Mountpoint || strings.HasPrefix(mp, m.Mountpoint+"/") {
				return true
			}
		}
		return false
	}

	for _, m := range mounts {
		if m.Mountpoint == "/" || m.Mountpoint == newRoot {
			continue
		}
		if alreadyMoved(m.Mountpoint) {
			continue
		}
		toMove = append(toMove, m)
	}
	return toMove
}

// switchToNewRoot moves every existing mount that is neither "/" nor
// "/new_root" and not already nested under a mount this loop has
// already moved, into the /new_root staging tree, then performs the
// chdir/move/chroot pivot.
func switchToNewRoot(procMountsPath, newRoot string) error {
	mounts, err := getAllMounts(procMountsPath)
	if err != nil {
		return err
	}

	for _, m := range planMoves(mounts, newRoot) {
		target := newRoot + m.Mountpoint
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("firststage: mkdir %s: %w", target, err)
		}
		if err := unix.Mount(m.Mountpoint, target, "", unix.MS_MOVE, ""); err != nil {
			return fmt.Errorf("firststage: move %s -> %s: %w", m.Mountpoint, target, err)
		}
	}

	if err := unix.Chdir(newRoot); err != nil {
		return fmt.Errorf("firststage: chdir %s: %w", newRoot, err)
	}
	if err := unix.Mount(newRoot, "/", "", unix.MS_MOVE, ""); err != nil {
		return fmt.Errorf("firststage: move %s -> /: %w", newRoot, err)
	}
	if err := unix.Chroot("."); err != nil {
		return fmt.Errorf("firststage: chroot: %w", err)
	}
	return nil
}
