package verity

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"rootinit/rerr"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/edsrzf/mmap-go"
)

const publicKeyPath = "/etc/veritykey.pub"

var logger = log.NewLogger("verity")

// Dm owns the device-mapper control handle and the signature-verified
// verity header for one slot's vbmeta partition. It is loaded once and
// held immutably for its lifetime.
type Dm struct {
	ctl    *control
	header *Header
}

// New opens /dev/mapper/control, reads the first 1024 bytes of
// verityDevicePath, and verifies them against the platform public key
// at /etc/veritykey.pub. A signature failure is fatal, per spec: the
// caller has no safe fallback once a vbmeta partition fails to verify.
func New(verityDevicePath string) (*Dm, error) {
	ctl, err := openControl()
	if err != nil {
		return nil, err
	}
	if err := ctl.checkVersion(); err != nil {
		ctl.Close()
		return nil, err
	}

	raw, err := readHeaderBytes(verityDevicePath)
	if err != nil {
		ctl.Close()
		return nil, err
	}

	pubKeyPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		ctl.Close()
		return nil, fmt.Errorf("verity: read %s: %w", publicKeyPath, err)
	}

	header, err := ParseHeader(raw, pubKeyPEM)
	if err != nil {
		ctl.Close()
		return nil, log.Wrap(err)
	}

	return &Dm{ctl: ctl, header: header}, nil
}

// Close releases the device-mapper control handle.
func (d *Dm) Close() error { return d.ctl.Close() }

func readHeaderBytes(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("verity: open %s: %w", path, err)
	}
	defer f.Close()

	m, err := mmap.MapRegion(f, headerSize, mmap.RDONLY, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("verity: mmap %s: %w", path, err)
	}
	defer m.Unmap()

	buf := make([]byte, headerSize)
	copy(buf, m)
	return buf, nil
}

// CreateDevice builds a dm-verity device named name mapping
// protectedPartition (the data device) through the hash tree on
// verityPartition (the hash device), using the parameters recorded
// under the protected partition's basename.
func (d *Dm) CreateDevice(protectedPartition, verityPartition, name string) (string, error) {
	protectedReal, err := filepath.EvalSymlinks(protectedPartition)
	if err != nil {
		return "", fmt.Errorf("verity: resolve %s: %w", protectedPartition, err)
	}
	verityReal, err := filepath.EvalSymlinks(verityPartition)
	if err != nil {
		return "", fmt.Errorf("verity: resolve %s: %w", verityPartition, err)
	}

	entry, ok := d.header.Lookup(filepath.Base(protectedReal))
	if !ok {
		return "", fmt.Errorf("verity: no entry for partition %q: %w", filepath.Base(protectedReal), rerr.ErrDMError)
	}

	if err := d.ctl.createDevice(name); err != nil {
		return "", err
	}

	sizeBytes, err := blockDeviceSize(protectedReal)
	if err != nil {
		return "", err
	}
	numBlocks := sizeBytes / uint64(entry.DataBlockSize)

	logger.Debugf(nil, "verity: %s size=%s blocks=%d", protectedReal, humanize.Bytes(sizeBytes), numBlocks)

	params := fmt.Sprintf("1 %s %s %d %d %d %d %s %s %s",
		protectedReal,
		verityReal,
		entry.DataBlockSize,
		entry.HashBlockSize,
		numBlocks,
		entry.HashStart,
		entry.Algorithm,
		hex.EncodeToString(entry.Digest),
		hex.EncodeToString(entry.Salt),
	)

	sectors := sizeBytes / 512
	if err := d.ctl.loadTable(name, "verity", params, sectors, dmReadonlyFlag); err != nil {
		return "", err
	}
	if err := d.ctl.resume(name); err != nil {
		return "", err
	}

	return filepath.Join("/dev/mapper", name), nil
}
