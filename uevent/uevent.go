// Package uevent implements the netlink kobject-uevent listener: socket
// setup, peer-credential filtering, and uevent payload parsing.
package uevent

import (
	"fmt"
	"strconv"
	"strings"

	"rootinit/rerr"
)

// Action is the kernel-reported device action.
type Action int

const (
	ActionUnknown Action = iota
	ActionAdd
	ActionChange
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionChange:
		return "change"
	case ActionRemove:
		return "remove"
	default:
		return "unknown"
	}
}

func actionFromString(s string) Action {
	switch s {
	case "add":
		return ActionAdd
	case "change":
		return ActionChange
	case "remove":
		return ActionRemove
	default:
		return ActionUnknown
	}
}

// UEvent is a parsed kobject uevent record. Unset optional fields are
// the zero value; Major/Minor/PartitionNumber use pointers so "absent"
// is distinguishable from "zero".
type UEvent struct {
	Action          Action
	DevPath         string
	Subsystem       string
	Major           *uint32
	Minor           *uint32
	DevName         string
	PartitionNumber *uint32
	PartitionName   string
	Firmware        string
	Modalias        string
}

func (u UEvent) String() string {
	return fmt.Sprintf("%s %s subsystem=%s devname=%s", u.Action, u.DevPath, u.Subsystem, u.DevName)
}

// Parse decodes a raw kobject uevent payload. The kernel's own framing
// prefixes the KEY=VALUE lines with a header line ("add@/devices/...")
// that carries no '=' and is ignored; any other field without '=' is
// likewise dropped rather than treated as an error, matching the
// permissive field-level tolerance of the original parser.
func Parse(payload []byte) (UEvent, error) {
	var ev UEvent

	for _, field := range strings.Split(string(payload), "\x00") {
		if field == "" {
			continue
		}
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "ACTION":
			ev.Action = actionFromString(value)
		case "DEVPATH":
			ev.DevPath = value
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "MAJOR":
			if v, err := strconv.ParseUint(value, 10, 32); err == nil {
				u := uint32(v)
				ev.Major = &u
			}
		case "MINOR":
			if v, err := strconv.ParseUint(value, 10, 32); err == nil {
				u := uint32(v)
				ev.Minor = &u
			}
		case "DEVNAME":
			ev.DevName = value
		case "PARTN":
			if v, err := strconv.ParseUint(value, 10, 32); err == nil {
				u := uint32(v)
				ev.PartitionNumber = &u
			}
		case "PARTNAME":
			ev.PartitionName = sanitizePartName(value)
		case "FIRMWARE":
			ev.Firmware = value
		case "MODALIAS":
			ev.Modalias = value
		default:
			// unknown keys silently dropped
		}
	}

	if ev.Action == ActionUnknown {
		return UEvent{}, fmt.Errorf("uevent: unrecognized or missing ACTION: %w", rerr.ErrInvalidData)
	}
	return ev, nil
}

// sanitizePartName replaces any byte outside [A-Za-z0-9_.-] with '_'.
func sanitizePartName(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
