// Package devnode materializes /dev nodes from Add uevents: block
// device nodes under /dev/block, optional by-name symlinks, and a
// pluggable ownership/mode policy.
package devnode

import (
	"fmt"
	"os"
	"path/filepath"

	"rootinit/stub"
	"rootinit/uevent"

	"golang.org/x/sys/unix"
)

// FileAttributes is what AttributePolicy resolves a path to before a
// node is created.
type FileAttributes struct {
	Owner uint32
	Group uint32
	Mode  uint32
}

// AttributePolicy lets implementations layer SELinux-style labeling or
// a static ownership table on top of node creation. DefaultAttributes
// is the zero-configuration policy: root-owned, 0o600.
type AttributePolicy interface {
	GetFileAttributes(path string) FileAttributes
}

// DefaultAttributes returns root:root 0o600 for every path.
type DefaultAttributes struct{}

func (DefaultAttributes) GetFileAttributes(string) FileAttributes {
	return FileAttributes{Owner: 0, Group: 0, Mode: 0o600}
}

const blockDir = "/dev/block"
const byNameDir = "/dev/block/by-name"

// Materializer creates device nodes for Add uevents under a given
// attribute policy.
type Materializer struct {
	policy AttributePolicy
}

// New returns a Materializer using policy. A nil policy defaults to
// DefaultAttributes.
func New(policy AttributePolicy) *Materializer {
	if policy == nil {
		policy = DefaultAttributes{}
	}
	return &Materializer{policy: policy}
}

// Handle dispatches a single uevent. Only Add events with both Major
// and Minor present create anything; everything else (including
// Change/Remove, or Add events missing major/minor) is a no-op.
func (m *Materializer) Handle(ev uevent.UEvent) error {
	if ev.Action != uevent.ActionAdd || ev.Major == nil || ev.Minor == nil {
		return nil
	}

	switch ev.Subsystem {
	case "block":
		return m.handleBlockAdd(ev)
	case "usb", "net":
		// explicit no-ops: no SPEC_FULL.md component materializes usb
		// or net device nodes during first-stage mount.
		return nil
	default:
		return nil
	}
}

func (m *Materializer) handleBlockAdd(ev uevent.UEvent) error {
	devPath := filepath.Join(blockDir, filepath.Base(ev.DevPath))

	if err := m.createParentDirs(devPath); err != nil {
		return err
	}

	if _, err := os.Lstat(devPath); err == nil {
		// node already exists
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("devnode: stat %s: %w", devPath, err)
	} else {
		attrs := m.policy.GetFileAttributes(devPath)
		dev := stub.Mkdev(*ev.Major, *ev.Minor)
		if err := stub.Mknod(devPath, unix.S_IFBLK|attrs.Mode, int(dev)); err != nil {
			return fmt.Errorf("devnode: mknod %s: %w", devPath, err)
		}
		if err := os.Chown(devPath, int(attrs.Owner), int(attrs.Group)); err != nil {
			return fmt.Errorf("devnode: chown %s: %w", devPath, err)
		}
	}

	if ev.PartitionName != "" {
		if err := m.createByNameSymlink(ev.PartitionName, devPath); err != nil {
			return err
		}
	}

	return nil
}

func (m *Materializer) createByNameSymlink(partitionName, target string) error {
	if err := os.MkdirAll(byNameDir, 0o755); err != nil {
		return fmt.Errorf("devnode: mkdir %s: %w", byNameDir, err)
	}
	link := filepath.Join(byNameDir, partitionName)
	if _, err := os.Lstat(link); err == nil {
		return nil
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("devnode: symlink %s -> %s: %w", link, target, err)
	}
	return nil
}

// createParentDirs creates every missing parent directory of path,
// applying the policy's attributes to each one created.
func (m *Materializer) createParentDirs(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := m.createParentDirs(dir); err != nil {
		return err
	}
	attrs := m.policy.GetFileAttributes(dir)
	if err := os.Mkdir(dir, os.FileMode(attrs.Mode|0o100)); err != nil && !os.IsExist(err) {
		return fmt.Errorf("devnode: mkdir %s: %w", dir, err)
	}
	return os.Chown(dir, int(attrs.Owner), int(attrs.Group))
}
