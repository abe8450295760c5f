package bootctl_test

import (
	"os"
	"path/filepath"
	"testing"

	"rootinit/bootctl"
	"rootinit/bootmsg"
	"rootinit/rerr"

	"github.com/stretchr/testify/require"
)

// newMiscFixture writes a freshly-initialized 4096-byte MISC record to a
// temp file and returns its path alongside a cmdline fixture path.
func newMiscFixture(t *testing.T, nbSlot uint8, slot0, slot1 struct {
	priority, tries uint8
	successful      bool
}, cmdline string) (miscPath, cmdlinePath string) {
	t.Helper()

	ab := bootmsg.NewBootloaderMessageAB()
	ctrl, err := ab.GetControlMut()
	require.NoError(t, err)
	require.NoError(t, ctrl.SetSlotSuffix("a"))
	ctrl.SetNbSlot(nbSlot)
	ctrl.SlotInfo(0).SetPriority(slot0.priority)
	ctrl.SlotInfo(0).SetTriesRemaining(slot0.tries)
	ctrl.SlotInfo(0).SetSuccessfulBoot(slot0.successful)
	ctrl.SlotInfo(1).SetPriority(slot1.priority)
	ctrl.SlotInfo(1).SetTriesRemaining(slot1.tries)
	ctrl.SlotInfo(1).SetSuccessfulBoot(slot1.successful)

	dir := t.TempDir()
	miscPath = filepath.Join(dir, "misc")
	require.NoError(t, os.WriteFile(miscPath, ab.AsBytes(), 0o644))

	cmdlinePath = filepath.Join(dir, "cmdline")
	require.NoError(t, os.WriteFile(cmdlinePath, []byte(cmdline), 0o644))

	return miscPath, cmdlinePath
}

func TestHappyPathDecode(t *testing.T) {
	miscPath, cmdlinePath := newMiscFixture(t, 2,
		struct{ priority, tries uint8; successful bool }{15, 6, false},
		struct{ priority, tries uint8; successful bool }{15, 7, false},
		"console=ttyS0 androidboot.slot_suffix=a root=/dev/dm-0",
	)

	bc, err := bootctl.Open(miscPath, cmdlinePath)
	require.NoError(t, err)

	n, err := bc.NumberOfSlots()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	active, err := bc.ActiveSlot()
	require.NoError(t, err)
	require.Equal(t, 0, active)

	cur, err := bc.CurrentSlot()
	require.NoError(t, err)
	require.Equal(t, 0, cur)

	bootable0, err := bc.IsBootable(0)
	require.NoError(t, err)
	require.True(t, bootable0)

	successful0, err := bc.IsSlotSuccessful(0)
	require.NoError(t, err)
	require.False(t, successful0)
}

func TestMarkSuccessful(t *testing.T) {
	miscPath, cmdlinePath := newMiscFixture(t, 2,
		struct{ priority, tries uint8; successful bool }{15, 6, false},
		struct{ priority, tries uint8; successful bool }{15, 7, false},
		"androidboot.slot_suffix=a",
	)

	bc, err := bootctl.Open(miscPath, cmdlinePath)
	require.NoError(t, err)
	require.NoError(t, bc.SetBootSuccessful())

	reopened, err := bootctl.Open(miscPath, cmdlinePath)
	require.NoError(t, err)

	ok, err := reopened.IsSlotSuccessful(0)
	require.NoError(t, err)
	require.True(t, ok)

	ok1, err := reopened.IsSlotSuccessful(1)
	require.NoError(t, err)
	require.False(t, ok1)
}

func TestSetActiveSlotValidatesDomain(t *testing.T) {
	miscPath, cmdlinePath := newMiscFixture(t, 2,
		struct{ priority, tries uint8; successful bool }{15, 6, false},
		struct{ priority, tries uint8; successful bool }{15, 7, false},
		"androidboot.slot_suffix=a",
	)

	bc, err := bootctl.Open(miscPath, cmdlinePath)
	require.NoError(t, err)

	require.NoError(t, bc.SetActiveSlot(1))
	active, err := bc.ActiveSlot()
	require.NoError(t, err)
	require.Equal(t, 1, active)

	err = bc.SetActiveSlot(2)
	require.ErrorIs(t, err, rerr.ErrInputOutOfRange)
}

func TestSetSlotAsUnbootable(t *testing.T) {
	miscPath, cmdlinePath := newMiscFixture(t, 2,
		struct{ priority, tries uint8; successful bool }{15, 6, false},
		struct{ priority, tries uint8; successful bool }{15, 7, false},
		"androidboot.slot_suffix=b",
	)

	bc, err := bootctl.Open(miscPath, cmdlinePath)
	require.NoError(t, err)

	require.NoError(t, bc.SetSlotAsUnbootable(1))

	reopened, err := bootctl.Open(miscPath, cmdlinePath)
	require.NoError(t, err)
	bootable, err := reopened.IsBootable(1)
	require.NoError(t, err)
	require.False(t, bootable)
}

func TestPartitionSuffix(t *testing.T) {
	s, err := bootctl.PartitionSuffix(0)
	require.NoError(t, err)
	require.Equal(t, "a", s)

	s, err = bootctl.PartitionSuffix(1)
	require.NoError(t, err)
	require.Equal(t, "b", s)

	_, err = bootctl.PartitionSuffix(2)
	require.ErrorIs(t, err, rerr.ErrInputOutOfRange)
}
