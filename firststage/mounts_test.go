package firststage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const procMountsFixture = `/dev/dm-0 / ext4 ro,seclabel,relatime 0 0
devtmpfs /dev devtmpfs rw,nosuid,relatime,size=4018320k,mode=755 0 0
devpts /dev/pts devpts rw,relatime 0 0
proc /proc proc rw,nosuid,nodev,noexec,relatime 0 0
sysfs /sys sysfs rw,nosuid,nodev,noexec,relatime 0 0
tmpfs /new_root tmpfs rw,relatime 0 0
`

func TestParseMounts(t *testing.T) {
	mounts, err := parseMounts(strings.NewReader(procMountsFixture))
	require.NoError(t, err)
	require.Len(t, mounts, 6)
	require.Equal(t, MountEntry{Device: "/dev/dm-0", Mountpoint: "/", FsType: "ext4"}, mounts[0])
	require.Equal(t, MountEntry{Device: "devpts", Mountpoint: "/dev/pts", FsType: "devpts"}, mounts[2])
}

func TestPlanMovesSkipsRootAndNewRoot(t *testing.T) {
	mounts, err := parseMounts(strings.NewReader(procMountsFixture))
	require.NoError(t, err)

	plan := planMoves(mounts, "/new_root")

	var mountpoints []string
	for _, m := range plan {
		mountpoints = append(mountpoints, m.Mountpoint)
	}
	require.Equal(t, []string{"/dev", "/proc", "/sys"}, mountpoints)
}

func TestPlanMovesSkipsAlreadyNestedMounts(t *testing.T) {
	mounts := []MountEntry{
		{Device: "/dev/dm-0", Mountpoint: "/", FsType: "ext4"},
		{Device: "devtmpfs", Mountpoint: "/dev", FsType: "devtmpfs"},
		{Device: "devpts", Mountpoint: "/dev/pts", FsType: "devpts"},
		{Device: "mqueue", Mountpoint: "/dev/mqueue", FsType: "mqueue"},
	}

	plan := planMoves(mounts, "/new_root")

	// /dev/pts and /dev/mqueue are already carried along once /dev
	// itself moves, so only /dev should be planned.
	require.Len(t, plan, 1)
	require.Equal(t, "/dev", plan[0].Mountpoint)
}
