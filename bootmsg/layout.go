package bootmsg

// BootloaderMessage documents the legacy 2048-byte recovery message
// that precedes the A/B-specific region in BootloaderMessageAB. Nothing
// in this package or its callers reads these fields — recovery is a
// separate collaborator — but the type exists so the fixed on-disk
// size can be asserted at startup (spec.md §8 "Layout sizes").
type BootloaderMessage struct {
	Command  [32]byte
	Status   [32]byte
	Recovery [768]byte
	Stage    [32]byte
	Reserved [1184]byte
}

// BootloaderControlLayout documents the 32-byte on-disk shape of
// Control for sizeof assertions; Control itself operates on a raw
// []byte view rather than this struct, to keep the CRC-aliasing
// invariant in one place (see Control's doc comment).
type BootloaderControlLayout struct {
	SlotSuffix  [4]byte
	Magic       uint32
	Version     uint8
	Bitfield    uint8
	Reserved0   [2]byte
	SlotInfo    [numSlotInfo][slotMetadataSize]byte
	Reserved1   [8]byte
	Crc32LE     uint32
}
