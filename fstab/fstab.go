// Package fstab parses /etc/fstab, resolving slot-suffix substitution
// and mapping mount option strings to kernel mount flags.
package fstab

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sys/unix"
)

// Flag is one fs_manager_flags token.
type Flag struct {
	Name  string // canonical name for the known flags, "other" for anything else
	Other string // raw token text when Name == "other"
}

const (
	FlagSlotSelect      = "slotselect"
	FlagFirstStageMount = "first_stage_mount"
	FlagVerity          = "verity"
	FlagLogical         = "logical"
	flagOther           = "other"
)

// Entry is one parsed fstab line.
type Entry struct {
	FsSpec       string
	Mountpoint   string
	VfsType      string
	MountOptions uint64
	Flags        []Flag
}

// HasFlag reports whether name (one of the Flag* constants) is set.
func (e Entry) HasFlag(name string) bool {
	for _, f := range e.Flags {
		if f.Name == name {
			return true
		}
	}
	return false
}

var mountOptionFlags = map[string]uint64{
	"ro":          uint64(unix.MS_RDONLY),
	"rw":          0,
	"dirsync":     uint64(unix.MS_DIRSYNC),
	"lazytime":    uint64(unix.MS_LAZYTIME),
	"mandlock":    uint64(unix.MS_MANDLOCK),
	"noatime":     uint64(unix.MS_NOATIME),
	"nodev":       uint64(unix.MS_NODEV),
	"nodiratime":  uint64(unix.MS_NODIRATIME),
	"noexec":      uint64(unix.MS_NOEXEC),
	"nosuid":      uint64(unix.MS_NOSUID),
	"silent":      uint64(unix.MS_SILENT),
	"strictatime": uint64(unix.MS_STRICTATIME),
	"sync":        uint64(unix.MS_SYNC),
}

// ParseEntries parses the full text of an fstab file. suffix is the
// active slot suffix ("a" or "b"); entries flagged slotselect have
// their fs_spec rewritten to "<fs_spec>_<suffix>". Malformed or comment
// lines are skipped.
func ParseEntries(r io.Reader, suffix string) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 5 {
			continue
		}

		entry := Entry{
			FsSpec:     fields[0],
			Mountpoint: fields[1],
			VfsType:    fields[2],
		}

		flags := parseFlags(fields[4])
		entry.Flags = flags
		if hasFlagName(flags, FlagSlotSelect) {
			entry.FsSpec = fmt.Sprintf("%s_%s", entry.FsSpec, suffix)
		}

		entry.MountOptions = parseMountOptions(fields[3])

		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("fstab: scan: %w", err)
	}

	return entries, nil
}

func hasFlagName(flags []Flag, name string) bool {
	for _, f := range flags {
		if f.Name == name {
			return true
		}
	}
	return false
}

func parseFlags(s string) []Flag {
	var flags []Flag
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		switch tok {
		case FlagSlotSelect, FlagFirstStageMount, FlagVerity, FlagLogical:
			flags = append(flags, Flag{Name: tok})
		default:
			flags = append(flags, Flag{Name: flagOther, Other: tok})
		}
	}
	return flags
}

// parseMountOptions ORs together the kernel mount flags for each
// recognized token; unrecognized tokens contribute 0.
func parseMountOptions(s string) uint64 {
	var flags uint64
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		flags |= mountOptionFlags[tok]
	}
	return flags
}
