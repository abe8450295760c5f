// Package bootctl implements the Boot Control Service: slot query and
// mutation operations layered on top of the bit-exact codec in
// rootinit/bootmsg.
package bootctl

import (
	"fmt"
	"os"
	"strings"

	"rootinit/bootmsg"
	"rootinit/rerr"

	"github.com/edsrzf/mmap-go"
)

// DefaultMiscPartition is the conventional by-name path for the MISC
// partition on a materialized device tree.
const DefaultMiscPartition = "/dev/block/by-name/misc"

// DefaultCmdlinePath is where the kernel command line is exposed.
const DefaultCmdlinePath = "/proc/cmdline"

var slotSuffixes = [2]string{"a", "b"}

// BootControl is a handle on the persisted Bootloader Control record.
// It owns the 4096-byte buffer exclusively for its lifetime; every
// mutating method persists synchronously.
type BootControl struct {
	miscPath    string
	cmdlinePath string
	ab          *bootmsg.BootloaderMessageAB
}

// Open reads and decodes the MISC partition at miscPath. The partition
// must already be materialized (via the uevent/devnode path) before
// this is called.
func Open(miscPath, cmdlinePath string) (*BootControl, error) {
	f, err := os.OpenFile(miscPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("bootctl: open %s: %w", miscPath, err)
	}
	defer f.Close()

	m, err := mmap.MapRegion(f, bootmsg.Size(), mmap.RDONLY, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("bootctl: mmap %s: %w", miscPath, err)
	}
	defer m.Unmap()

	ab, err := bootmsg.ReadFrom(m)
	if err != nil {
		return nil, err
	}

	return &BootControl{miscPath: miscPath, cmdlinePath: cmdlinePath, ab: ab}, nil
}

func (bc *BootControl) control() (bootmsg.Control, error) {
	ctrl, err := bc.ab.GetControlMut()
	if err != nil {
		return bootmsg.Control{}, err
	}
	return ctrl, nil
}

// NumberOfSlots returns nb_slot from the control record.
func (bc *BootControl) NumberOfSlots() (int, error) {
	ctrl, err := bc.control()
	if err != nil {
		return 0, err
	}
	return int(ctrl.NbSlot()), nil
}

// CurrentSlot reads /proc/cmdline and returns the slot the kernel
// actually booted (0 = "a", 1 = "b"). This may differ from ActiveSlot
// between marking a slot successful and the next reboot.
func (bc *BootControl) CurrentSlot() (int, error) {
	raw, err := os.ReadFile(bc.cmdlinePath)
	if err != nil {
		return 0, fmt.Errorf("bootctl: read %s: %w", bc.cmdlinePath, err)
	}
	suffix, err := slotSuffixFromCmdline(string(raw))
	if err != nil {
		return 0, err
	}
	return slotIndexFromSuffix(suffix)
}

// ActiveSlot decodes slot_suffix from the control record.
func (bc *BootControl) ActiveSlot() (int, error) {
	ctrl, err := bc.control()
	if err != nil {
		return 0, err
	}
	return slotIndexFromSuffix(ctrl.SlotSuffix())
}

// SetBootSuccessful marks the current slot (per CurrentSlot) as having
// booted successfully and persists the record.
func (bc *BootControl) SetBootSuccessful() error {
	cur, err := bc.CurrentSlot()
	if err != nil {
		return err
	}
	ctrl, err := bc.control()
	if err != nil {
		return err
	}
	ctrl.SlotInfo(cur).SetSuccessfulBoot(true)
	return bc.persist()
}

// SetActiveSlot writes the canonical suffix for slot i and persists.
func (bc *BootControl) SetActiveSlot(i int) error {
	ctrl, err := bc.control()
	if err != nil {
		return err
	}
	n := int(ctrl.NbSlot())
	if i < 0 || i >= n {
		return fmt.Errorf("bootctl: slot index %d out of range [0,%d): %w", i, n, rerr.ErrInputOutOfRange)
	}
	if err := ctrl.SetSlotSuffix(slotSuffixes[i]); err != nil {
		return err
	}
	return bc.persist()
}

// SetSlotAsUnbootable zeroes the tries_remaining counter for slot i and
// persists.
func (bc *BootControl) SetSlotAsUnbootable(i int) error {
	ctrl, err := bc.control()
	if err != nil {
		return err
	}
	n := int(ctrl.NbSlot())
	if i < 0 || i >= n {
		return fmt.Errorf("bootctl: slot index %d out of range [0,%d): %w", i, n, rerr.ErrInputOutOfRange)
	}
	ctrl.SlotInfo(i).SetTriesRemaining(0)
	return bc.persist()
}

// IsBootable reports whether slot i still has boot attempts remaining.
func (bc *BootControl) IsBootable(i int) (bool, error) {
	ctrl, err := bc.control()
	if err != nil {
		return false, err
	}
	n := int(ctrl.NbSlot())
	if i < 0 || i >= n {
		return false, fmt.Errorf("bootctl: slot index %d out of range [0,%d): %w", i, n, rerr.ErrInputOutOfRange)
	}
	return ctrl.SlotInfo(i).TriesRemaining() > 0, nil
}

// IsSlotSuccessful reports whether slot i has been marked as having
// booted successfully.
func (bc *BootControl) IsSlotSuccessful(i int) (bool, error) {
	ctrl, err := bc.control()
	if err != nil {
		return false, err
	}
	n := int(ctrl.NbSlot())
	if i < 0 || i >= n {
		return false, fmt.Errorf("bootctl: slot index %d out of range [0,%d): %w", i, n, rerr.ErrInputOutOfRange)
	}
	return ctrl.SlotInfo(i).SuccessfulBoot(), nil
}

// PartitionSuffix returns the canonical suffix ("a" or "b") for slot i.
func PartitionSuffix(i int) (string, error) {
	if i < 0 || i >= len(slotSuffixes) {
		return "", fmt.Errorf("bootctl: slot index %d out of range: %w", i, rerr.ErrInputOutOfRange)
	}
	return slotSuffixes[i], nil
}

// persist overwrites the first 4096 bytes of the MISC partition in
// place through a writable mapping; the partition is not truncated.
// Every mutating BootControl method ends here, so no mutation is ever
// left un-persisted.
func (bc *BootControl) persist() error {
	buf := bc.ab.AsBytes()

	f, err := os.OpenFile(bc.miscPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("bootctl: open %s for persist: %w", bc.miscPath, err)
	}
	defer f.Close()

	m, err := mmap.MapRegion(f, len(buf), mmap.RDWR, 0, 0)
	if err != nil {
		return fmt.Errorf("bootctl: mmap %s for persist: %w", bc.miscPath, err)
	}
	defer m.Unmap()

	copy(m, buf)
	return m.Flush()
}

func slotIndexFromSuffix(suffix string) (int, error) {
	switch suffix {
	case "a":
		return 0, nil
	case "b":
		return 1, nil
	default:
		return 0, fmt.Errorf("bootctl: invalid slot suffix %q: %w", suffix, rerr.ErrInvalidData)
	}
}

// slotSuffixFromCmdline extracts the androidboot.slot_suffix (or
// equivalent single-character suffix key) token's value from a raw
// /proc/cmdline string.
func slotSuffixFromCmdline(cmdline string) (string, error) {
	for _, tok := range strings.Fields(cmdline) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		if k == "androidboot.slot_suffix" || strings.HasSuffix(k, ".slot_suffix") || k == "slot_suffix" {
			return v, nil
		}
	}
	return "", fmt.Errorf("bootctl: no slot_suffix token in cmdline: %w", rerr.ErrInvalidData)
}
