// Package verity loads the signed vbmeta verity header and constructs
// device-mapper verity targets from its per-partition entries.
package verity

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"

	"rootinit/rerr"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

var defaultEncoding = binary.LittleEndian

const (
	headerSize       = 1024
	headerMagic      = "VRTY"
	maxEntries       = 3
	signatureSize    = 256
	partitionNameLen = 36
	algorithmLen     = 16
	digestCapacity   = 64
	saltCapacity     = 64
)

// rawHeader is the fixed 1024-byte on-disk layout: a signed entry
// table preceded by a magic/version/count and an RSA-2048 PKCS#1v1.5
// signature over the entry table bytes.
type rawHeader struct {
	Magic         [4]byte
	Version       uint32
	NumEntries    uint32
	SignatureLen  uint32
	Signature     [signatureSize]byte
	Entries       [maxEntries]rawEntry
	Reserved      [116]byte // pads the 908 bytes of fields above to headerSize
}

type rawEntry struct {
	PartitionName [partitionNameLen]byte
	DataBlockSize uint32
	HashBlockSize uint32
	NumBlocks     uint64
	HashStart     uint64
	Algorithm     [algorithmLen]byte
	DigestLen     uint32
	Digest        [digestCapacity]byte
	SaltLen       uint32
	Salt          [saltCapacity]byte
}

// Entry is one partition's verity parameters, as consumed by
// Dm.CreateDevice's table-row construction.
type Entry struct {
	PartitionName string
	DataBlockSize uint32
	HashBlockSize uint32
	NumBlocks     uint64
	HashStart     uint64
	Algorithm     string
	Digest        []byte
	Salt          []byte
}

// Header is the decoded, signature-verified vbmeta header: an
// immutable mapping of partition basename to its verity parameters.
type Header struct {
	entries map[string]Entry
}

// Lookup returns the Entry for a protected partition's basename.
func (h *Header) Lookup(basename string) (Entry, bool) {
	e, ok := h.entries[basename]
	return e, ok
}

// ParseHeader verifies raw (the first 1024 bytes of the vbmeta
// partition) against pubKeyPEM (the contents of /etc/veritykey.pub)
// and, on success, decodes its entry table.
func ParseHeader(raw []byte, pubKeyPEM []byte) (*Header, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("verity: header needs %d bytes, got %d: %w", headerSize, len(raw), rerr.ErrInsufficientBytes)
	}

	var rh rawHeader
	if err := restruct.Unpack(raw[:headerSize], defaultEncoding, &rh); err != nil {
		return nil, log.Wrap(fmt.Errorf("verity: unpack header: %w", err))
	}

	if !bytes.Equal(rh.Magic[:], []byte(headerMagic)) {
		return nil, fmt.Errorf("verity: bad magic: %w", rerr.ErrInvalidData)
	}
	if rh.NumEntries > maxEntries {
		return nil, fmt.Errorf("verity: %d entries exceeds capacity %d: %w", rh.NumEntries, maxEntries, rerr.ErrInvalidData)
	}
	if rh.SignatureLen == 0 || int(rh.SignatureLen) > signatureSize {
		return nil, fmt.Errorf("verity: bad signature length %d: %w", rh.SignatureLen, rerr.ErrInvalidData)
	}

	pub, err := parsePublicKey(pubKeyPEM)
	if err != nil {
		return nil, log.Wrap(err)
	}

	signedBody, err := entryTableBytes(rh)
	if err != nil {
		return nil, log.Wrap(err)
	}
	digest := sha256.Sum256(signedBody)
	sig := rh.Signature[:rh.SignatureLen]
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return nil, fmt.Errorf("verity: signature verification failed: %w", rerr.ErrDMError)
	}

	entries := make(map[string]Entry, rh.NumEntries)
	for i := 0; i < int(rh.NumEntries); i++ {
		re := rh.Entries[i]
		name := cString(re.PartitionName[:])
		entries[name] = Entry{
			PartitionName: name,
			DataBlockSize: re.DataBlockSize,
			HashBlockSize: re.HashBlockSize,
			NumBlocks:     re.NumBlocks,
			HashStart:     re.HashStart,
			Algorithm:     cString(re.Algorithm[:]),
			Digest:        append([]byte(nil), re.Digest[:re.DigestLen]...),
			Salt:          append([]byte(nil), re.Salt[:re.SaltLen]...),
		}
	}

	return &Header{entries: entries}, nil
}

// entryTableBytes re-serializes just the entry table (the portion the
// signature covers, excluding the signature field itself) so the
// verifier hashes exactly what the signer hashed.
func entryTableBytes(rh rawHeader) ([]byte, error) {
	buf := make([]byte, 0, int(rh.NumEntries)*256)
	for i := 0; i < int(rh.NumEntries); i++ {
		b, err := restruct.Pack(defaultEncoding, &rh.Entries[i])
		if err != nil {
			return nil, fmt.Errorf("verity: re-pack entry %d: %w", i, err)
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("verity: no PEM block in public key file: %w", rerr.ErrInvalidData)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("verity: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("verity: public key is not RSA: %w", rerr.ErrInvalidData)
	}
	return rsaPub, nil
}

func cString(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}
