package verity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/go-restruct/restruct"
	"github.com/stretchr/testify/require"
)

func buildSignedHeader(t *testing.T, priv *rsa.PrivateKey, entries []Entry) []byte {
	t.Helper()

	var rh rawHeader
	copy(rh.Magic[:], headerMagic)
	rh.Version = 1
	rh.NumEntries = uint32(len(entries))

	for i, e := range entries {
		var re rawEntry
		copy(re.PartitionName[:], e.PartitionName)
		re.DataBlockSize = e.DataBlockSize
		re.HashBlockSize = e.HashBlockSize
		re.NumBlocks = e.NumBlocks
		re.HashStart = e.HashStart
		copy(re.Algorithm[:], e.Algorithm)
		re.DigestLen = uint32(len(e.Digest))
		copy(re.Digest[:], e.Digest)
		re.SaltLen = uint32(len(e.Salt))
		copy(re.Salt[:], e.Salt)
		rh.Entries[i] = re
	}

	body, err := entryTableBytes(rh)
	require.NoError(t, err)
	digest := sha256.Sum256(body)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	require.NoError(t, err)
	rh.SignatureLen = uint32(len(sig))
	copy(rh.Signature[:], sig)

	raw, err := restruct.Pack(defaultEncoding, &rh)
	require.NoError(t, err)
	require.Len(t, raw, headerSize)
	return raw
}

func marshalPublicKeyPEM(t *testing.T, pub *rsa.PublicKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestParseHeaderRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	entries := []Entry{
		{
			PartitionName: "system",
			DataBlockSize: 4096,
			HashBlockSize: 4096,
			NumBlocks:     1024,
			HashStart:     1024,
			Algorithm:     "sha256",
			Digest:        make([]byte, 32),
			Salt:          make([]byte, 16),
		},
	}

	raw := buildSignedHeader(t, priv, entries)
	pemBytes := marshalPublicKeyPEM(t, &priv.PublicKey)

	header, err := ParseHeader(raw, pemBytes)
	require.NoError(t, err)

	entry, ok := header.Lookup("system")
	require.True(t, ok)
	require.Equal(t, uint32(4096), entry.DataBlockSize)
	require.Equal(t, "sha256", entry.Algorithm)
	require.Len(t, entry.Digest, 32)
}

func TestParseHeaderRejectsBadSignature(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	entries := []Entry{{PartitionName: "vendor", DataBlockSize: 4096, HashBlockSize: 4096, Algorithm: "sha256"}}
	raw := buildSignedHeader(t, priv, entries)
	wrongPEM := marshalPublicKeyPEM(t, &other.PublicKey)

	_, err = ParseHeader(raw, wrongPEM)
	require.Error(t, err)
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	raw := buildSignedHeader(t, priv, nil)
	raw[0] ^= 0xFF

	_, err = ParseHeader(raw, marshalPublicKeyPEM(t, &priv.PublicKey))
	require.Error(t, err)
}

func TestParseHeaderRejectsInsufficientBytes(t *testing.T) {
	_, err := ParseHeader(make([]byte, 10), nil)
	require.Error(t, err)
}
