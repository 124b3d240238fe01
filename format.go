package far

import (
	"encoding/binary"
	"math"
)

// Magic is the value of the first eight bytes of every archive.
const Magic uint64 = 0x11c5abad480bbfc8

// Sizes of the fixed on-disk records.
const (
	IndexChunkSize = 16
	IndexEntrySize = 24
	EntrySize      = 32

	// ChunkAlignment is the required multiple for every chunk length.
	ChunkAlignment = 8
)

// Chunk type tags stored in index entries.
var (
	DirType      = ChunkType("DIR-----")
	DirNamesType = ChunkType("DIRNAMES")
)

// ChunkType converts an eight byte ASCII tag to its on-disk value.
// Shorter tags are padded with zero bytes; longer tags are truncated.
func ChunkType(tag string) uint64 {
	var b [8]byte
	copy(b[:], tag)
	return binary.LittleEndian.Uint64(b[:])
}

// IndexEntry locates one chunk of the archive.
type IndexEntry struct {
	Type   uint64
	Offset uint64
	Length uint64
}

// Entry is one record of the directory chunk.
//
// The name is a range into the path table; resolve it with [Reader.Path].
type Entry struct {
	NameOffset uint32
	NameLength uint16
	DataOffset uint64
	DataLength uint64
}

type indexChunk struct {
	magic  uint64
	length uint64
}

func decodeIndexChunk(b []byte) indexChunk {
	return indexChunk{
		magic:  binary.LittleEndian.Uint64(b[0:8]),
		length: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// validLength reports whether the index length is a whole number of entries
// and leaves room for the header without overflowing.
func (c indexChunk) validLength() bool {
	return c.length%IndexEntrySize == 0 && c.length <= math.MaxUint64-IndexChunkSize
}

func decodeIndexEntries(b []byte) []IndexEntry {
	entries := make([]IndexEntry, len(b)/IndexEntrySize)
	for i := range entries {
		rec := b[i*IndexEntrySize : (i+1)*IndexEntrySize]
		entries[i] = IndexEntry{
			Type:   binary.LittleEndian.Uint64(rec[0:8]),
			Offset: binary.LittleEndian.Uint64(rec[8:16]),
			Length: binary.LittleEndian.Uint64(rec[16:24]),
		}
	}
	return entries
}

// Directory records carry two reserved fields (bytes 6:8 and 24:32) that
// are ignored on read.
func decodeEntries(b []byte) []Entry {
	entries := make([]Entry, len(b)/EntrySize)
	for i := range entries {
		rec := b[i*EntrySize : (i+1)*EntrySize]
		entries[i] = Entry{
			NameOffset: binary.LittleEndian.Uint32(rec[0:4]),
			NameLength: binary.LittleEndian.Uint16(rec[4:6]),
			DataOffset: binary.LittleEndian.Uint64(rec[8:16]),
			DataLength: binary.LittleEndian.Uint64(rec[16:24]),
		}
	}
	return entries
}
