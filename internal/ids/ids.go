// Package ids carries the small slice of the platform's DAC id table
// that the boot core actually reads. The full table (several hundred
// service uids/gids) lives in the platform image build, not here.
package ids

// PlatformDacID is a uid/gid defined by the platform. Values must not
// change once shipped; a bootloader and kernel cmdline both encode
// assumptions about them.
type PlatformDacID uint32

const (
	Root   PlatformDacID = 0
	System PlatformDacID = 1000

	// ReadProc is the supplementary group given to PID 1 so that
	// /proc can be mounted with hidepid=2,gid=<ReadProc> and still be
	// readable by early boot code.
	ReadProc PlatformDacID = 3009
)
