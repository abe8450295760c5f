package firststage

import (
	"fmt"
	"os"
	"path/filepath"

	"rootinit/bootctl"
	"rootinit/devnode"
	"rootinit/fstab"
	"rootinit/rerr"
	"rootinit/uevent"
	"rootinit/verity"

	"github.com/dsoprea/go-logging"
	"golang.org/x/sys/unix"
)

// vbmetaPartitionPrefix is vbmeta's by-name base, joined with the
// active slot suffix to get the actual verity metadata partition.
const vbmetaPartitionPrefix = "vbmeta"

var logger = log.NewLogger("firststage")

// Config names every path FSMO needs to locate. The zero value is not
// usable; use DefaultConfig to start from the conventional layout.
type Config struct {
	MiscPath       string
	CmdlinePath    string
	FstabPath      string
	ProcMountsPath string
	NewRootDir     string
	Policy         devnode.AttributePolicy
}

// DefaultConfig is the conventional layout used on a real device boot.
func DefaultConfig() Config {
	return Config{
		MiscPath:       bootctl.DefaultMiscPartition,
		CmdlinePath:    bootctl.DefaultCmdlinePath,
		FstabPath:      "/etc/fstab",
		ProcMountsPath: "/proc/mounts",
		NewRootDir:     "/new_root",
	}
}

// Run performs the first-stage mount proper: it assumes EarlyMount has
// already been called. Every failure inside Run is returned as an
// error; nothing is logged and skipped.
func Run(cfg Config) error {
	bc, err := bootctl.Open(cfg.MiscPath, cfg.CmdlinePath)
	if err != nil {
		return err
	}
	cur, err := bc.CurrentSlot()
	if err != nil {
		return err
	}
	suffix, err := bootctl.PartitionSuffix(cur)
	if err != nil {
		return err
	}

	fstabFile, err := os.Open(cfg.FstabPath)
	if err != nil {
		return fmt.Errorf("firststage: open %s: %w", cfg.FstabPath, err)
	}
	entries, err := fstab.ParseEntries(fstabFile, suffix)
	fstabFile.Close()
	if err != nil {
		return err
	}

	sock, err := uevent.Open()
	if err != nil {
		return err
	}
	defer sock.Close()
	mat := devnode.New(cfg.Policy)

	var vm *verity.Dm
	var vbmetaPath string
	if anyVerityFirstStage(entries) {
		vbmetaName := fmt.Sprintf("%s_%s", vbmetaPartitionPrefix, suffix)
		vbmetaPath = filepath.Join(devBlockByName, vbmetaName)
		if err := ensureMountDeviceCreated(vbmetaPath, sock, mat); err != nil {
			return err
		}
		vm, err = verity.New(vbmetaPath)
		if err != nil {
			return err
		}
		defer vm.Close()
	}

	rootIdx := -1
	for i, e := range entries {
		if e.Mountpoint == "/" {
			rootIdx = i
			break
		}
	}
	if rootIdx < 0 {
		return fmt.Errorf("firststage: no / entry in %s: %w", cfg.FstabPath, rerr.ErrNotFound)
	}
	root := &entries[rootIdx]
	if !root.HasFlag(fstab.FlagFirstStageMount) {
		return fmt.Errorf("firststage: / is not marked first_stage_mount: %w", rerr.ErrInvalidData)
	}

	if err := retryRootDevice(root.FsSpec, sock, mat); err != nil {
		return logger.Errorf(nil, err, "firststage: root device never materialized")
	}

	origMountpoint := root.Mountpoint
	root.Mountpoint = cfg.NewRootDir
	if err := mountEntry(*root, sock, mat, vm, vbmetaPath); err != nil {
		return err
	}
	root.Mountpoint = origMountpoint

	if err := switchToNewRoot(cfg.ProcMountsPath, cfg.NewRootDir); err != nil {
		return fmt.Errorf("firststage: switch to new root: %w", err)
	}

	for i, e := range entries {
		if i == rootIdx {
			continue
		}
		if err := ensureMountDeviceCreated(e.FsSpec, sock, mat); err != nil {
			return err
		}
		if err := mountEntry(e, sock, mat, vm, vbmetaPath); err != nil {
			return err
		}
	}

	return nil
}

func anyVerityFirstStage(entries []fstab.Entry) bool {
	for _, e := range entries {
		if e.HasFlag(fstab.FlagVerity) && e.HasFlag(fstab.FlagFirstStageMount) {
			return true
		}
	}
	return false
}

// mountEntry wraps e's fs_spec in a dm-verity device when flagged, and
// mounts the result. vm and vbmetaPath are the zero value when no
// first_stage_mount entry in this fstab is verity-protected.
func mountEntry(e fstab.Entry, sock *uevent.Socket, mat *devnode.Materializer, vm *verity.Dm, vbmetaPath string) error {
	fsSpec := e.FsSpec
	if e.HasFlag(fstab.FlagVerity) {
		if vm == nil {
			return fmt.Errorf("firststage: %s flagged verity but no verity metadata loaded: %w", e.FsSpec, rerr.ErrInvalidData)
		}
		name := nextDMName()
		if _, err := vm.CreateDevice(e.FsSpec, vbmetaPath, name); err != nil {
			return err
		}
		// The table load makes the kernel emit an Add uevent for the
		// mapped device under its own name (e.g. "dm-0"); that's the
		// node the mount syscall actually needs, not /dev/mapper/<name>
		// (which nothing in this environment populates without udev).
		devPath := filepath.Join(devBlockDir, name)
		if err := ensureMountDeviceCreated(devPath, sock, mat); err != nil {
			return err
		}
		fsSpec = devPath
	}

	logger.Debugf(nil, "firststage: mount %s -> %s (%s)", fsSpec, e.Mountpoint, e.VfsType)
	if err := unix.Mount(fsSpec, e.Mountpoint, e.VfsType, uintptr(e.MountOptions), ""); err != nil {
		return fmt.Errorf("firststage: mount %s on %s: %w", fsSpec, e.Mountpoint, err)
	}
	return nil
}
