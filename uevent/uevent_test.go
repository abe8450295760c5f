package uevent_test

import (
	"testing"

	"rootinit/rerr"
	"rootinit/uevent"

	"github.com/stretchr/testify/require"
)

func TestParseUevent(t *testing.T) {
	payload := "ACTION=add\x00DEVPATH=/devices/.../vda6\x00SUBSYSTEM=block\x00MAJOR=252\x00MINOR=6\x00DEVNAME=vda6\x00PARTN=6\x00PARTNAME=system_a\x00"

	ev, err := uevent.Parse([]byte(payload))
	require.NoError(t, err)

	require.Equal(t, uevent.ActionAdd, ev.Action)
	require.Equal(t, "/devices/.../vda6", ev.DevPath)
	require.Equal(t, "block", ev.Subsystem)
	require.NotNil(t, ev.Major)
	require.EqualValues(t, 252, *ev.Major)
	require.NotNil(t, ev.Minor)
	require.EqualValues(t, 6, *ev.Minor)
	require.Equal(t, "vda6", ev.DevName)
	require.NotNil(t, ev.PartitionNumber)
	require.EqualValues(t, 6, *ev.PartitionNumber)
	require.Equal(t, "system_a", ev.PartitionName)
}

func TestParseSkipsHeaderLine(t *testing.T) {
	payload := "add@/devices/.../vda6\x00ACTION=add\x00DEVPATH=/devices/.../vda6\x00SUBSYSTEM=block\x00"

	ev, err := uevent.Parse([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, uevent.ActionAdd, ev.Action)
	require.Equal(t, "block", ev.Subsystem)
}

func TestParseUnrecognizedActionIsInvalidData(t *testing.T) {
	_, err := uevent.Parse([]byte("ACTION=bind\x00DEVPATH=/devices/foo\x00"))
	require.ErrorIs(t, err, rerr.ErrInvalidData)
}

func TestSanitizePartitionName(t *testing.T) {
	ev, err := uevent.Parse([]byte("ACTION=add\x00PARTNAME=sys tem!a$b\x00"))
	require.NoError(t, err)
	require.Equal(t, "sys_tem_a_b", ev.PartitionName)
}

func TestSanitizeLeavesAllowedBytes(t *testing.T) {
	ev, err := uevent.Parse([]byte("ACTION=add\x00PARTNAME=system_a-1.img\x00"))
	require.NoError(t, err)
	require.Equal(t, "system_a-1.img", ev.PartitionName)
}

func TestUnknownKeysDropped(t *testing.T) {
	ev, err := uevent.Parse([]byte("ACTION=add\x00SEQNUM=1234\x00DEVPATH=/devices/x\x00"))
	require.NoError(t, err)
	require.Equal(t, "/devices/x", ev.DevPath)
}
