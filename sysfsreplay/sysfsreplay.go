// Package sysfsreplay forces the kernel to re-emit uevents for devices
// that already exist by writing to their sysfs "uevent" attribute, then
// drains the netlink socket for the replayed events.
package sysfsreplay

import (
	"os"
	"path/filepath"
	"strings"

	"rootinit/uevent"
)

// maxPathComponents bounds the recursion depth; deeper sysfs trees are
// skipped rather than walked, since a well-formed device subtree never
// nests this deep under the directories this package is pointed at.
const maxPathComponents = 5

// drainPollMs is the poll timeout used while draining replayed events;
// once it elapses with nothing queued, the kernel has finished emitting.
const drainPollMs = 5

// Signal is the traversal result: Continue keeps walking sibling and
// child directories, Stop unwinds immediately once a caller's
// predicate has found what it was waiting for.
type Signal int

const (
	Continue Signal = iota
	Stop
)

// Predicate inspects a replayed uevent and decides whether the caller's
// target device has been found.
type Predicate func(uevent.UEvent) Signal

// Source is the subset of *uevent.Socket this package drains; carved
// out as an interface so the traversal logic can be exercised against
// a fixture source without a live netlink socket.
type Source interface {
	ReadTimeout(timeoutMs int) (uevent.UEvent, bool, error)
}

// RegenerateUeventForDir drives the depth-first sysfs replay described
// in the device-materialization flow: force-emit an "add" uevent for
// dir (if it has a uevent attribute), drain the resulting netlink
// traffic through predicate, then recurse into children that look like
// device directories.
func RegenerateUeventForDir(dir string, sock Source, predicate Predicate) (Signal, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Continue, nil
	}
	if pathComponents(dir) > maxPathComponents {
		return Continue, nil
	}

	ueventPath := filepath.Join(dir, "uevent")
	if _, err := os.Stat(ueventPath); err == nil {
		if err := os.WriteFile(ueventPath, []byte("add\n"), 0o200); err != nil {
			return Continue, err
		}
		sig, err := drain(sock, predicate)
		if err != nil {
			return Continue, err
		}
		if sig == Stop {
			return Stop, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Continue, nil
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child := filepath.Join(dir, entry.Name())
		if !looksLikeDeviceDir(child) {
			continue
		}
		sig, err := RegenerateUeventForDir(child, sock, predicate)
		if err != nil {
			return Continue, err
		}
		if sig == Stop {
			return Stop, nil
		}
	}

	return Continue, nil
}

// drain reads replayed events off the netlink socket until a 5 ms poll
// times out with nothing queued, handing each parsed event to
// predicate as it arrives.
func drain(sock Source, predicate Predicate) (Signal, error) {
	for {
		ev, ok, err := sock.ReadTimeout(drainPollMs)
		if err != nil {
			return Continue, err
		}
		if !ok {
			return Continue, nil
		}
		if predicate(ev) == Stop {
			return Stop, nil
		}
	}
}

// looksLikeDeviceDir reports whether dir contains both a "uevent" and a
// "dev" pseudo-file, the sysfs signature of a device node directory.
func looksLikeDeviceDir(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "uevent")); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, "dev")); err != nil {
		return false
	}
	return true
}

// pathComponents counts path elements the way the original sysfs walker
// does: the root separator counts as one component, so "/sys/class/
// block/vda4" is 5 ("/", "sys", "class", "block", "vda4").
func pathComponents(path string) int {
	clean := filepath.Clean(path)
	n := 0
	if filepath.IsAbs(clean) {
		n++
	}
	for _, p := range strings.Split(clean, string(filepath.Separator)) {
		if p != "" {
			n++
		}
	}
	return n
}
