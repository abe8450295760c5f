// Package rerr defines the sentinel errors shared across the boot core
// packages, so callers can branch with errors.Is instead of string
// matching.
package rerr

import "errors"

var (
	// ErrCrcFailure is returned when a persisted Bootloader Control
	// record's CRC does not match its payload.
	ErrCrcFailure = errors.New("bootmsg: crc failure")

	// ErrInsufficientBytes is returned when a buffer is shorter than
	// the fixed-size record it is expected to hold.
	ErrInsufficientBytes = errors.New("bootmsg: insufficient bytes")

	// ErrDataTooLong is returned when a value does not fit in its
	// fixed-size on-disk field.
	ErrDataTooLong = errors.New("bootmsg: data too long")

	// ErrPriorityOutOfRange is returned when an on-disk metadata byte
	// violates its bit range during decode.
	ErrPriorityOutOfRange = errors.New("bootmsg: priority out of range")

	// ErrInvalidArgument flags caller-supplied bad data.
	ErrInvalidArgument = errors.New("rootinit: invalid argument")

	// ErrInputOutOfRange flags a caller-supplied index/offset outside
	// its valid domain.
	ErrInputOutOfRange = errors.New("rootinit: input out of range")

	// ErrDMError flags any device-mapper or verity subsystem failure.
	ErrDMError = errors.New("verity: device-mapper error")

	// ErrNotFound flags a required /dev or /sys path that was not
	// materialized in time.
	ErrNotFound = errors.New("rootinit: not found")

	// ErrInvalidData flags malformed input that cannot be a caller
	// mistake (parsed from the kernel or from disk).
	ErrInvalidData = errors.New("rootinit: invalid data")

	// ErrPermissionDenied flags a rejected netlink message (credential
	// or source-address check failure).
	ErrPermissionDenied = errors.New("uevent: permission denied")

	// ErrInterrupted flags a netlink read that returned EAGAIN/EINTR.
	ErrInterrupted = errors.New("uevent: interrupted")
)
