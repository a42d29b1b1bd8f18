// Package spare implements the per-page tag and per-block summary codec
// of spec §3: the metadata carried in each page's spare area and the
// decoded, in-memory summary of a whole block built from those tags.
//
// Grounded in the teacher's storage/wrapper/page/page_header.go (a fixed-
// field page header encode/decode) and util/hash_utils.go's xxhash-backed
// HashCode, generalized from an InnoDB page header to the raw page tag
// this spec defines.
package spare

import (
	"github.com/OneOfOne/xxhash"

	"github.com/rogerz/uffs/internal/bitio"
)

// NodeType is the on-flash page-tag "type" field.
type NodeType uint8

const (
	TypeFileHeader NodeType = iota
	TypeDirHeader
	TypeData
)

// TagSize is the encoded byte length of a PageTag: 10 bytes, chosen so it
// leaves room for a data-ECC region even on the spec's smallest spare
// budget (a 512-byte page has a 16-byte spare area; 10 bytes of tag plus
// 6 bytes of ECC for two 256-byte segments fits exactly).
const TagSize = 10

// PageTag is the per-page spare-area metadata of spec §3. Serial is
// persisted as 16 bits per spec §3 ("16-bit or larger integer"); this
// implementation addresses up to 65535 live serials. BlockIndex recovers
// the tree's `(owning_serial, logical_block_index)` data-block key at
// mount time (spec §4.4); it is meaningless for header pages.
type PageTag struct {
	Serial     uint16 // owning node's serial (or the block's own serial for header page 0)
	Type       NodeType
	PageID     uint8  // page offset within the physical block; 0 for header pages
	BlockTS    uint8  // 2-bit wrap-safe counter, values 0..3
	BlockIndex uint16 // logical data-block index within the owning node; 0 for header pages
	DataLen    uint16 // bytes valid in the data portion
	TagECC     uint16 // checksum over the fields above
}

// checksum computes the tag_ecc field: an xxhash64 of the other fields,
// truncated to 16 bits to fit the spare-area budget. This is independent
// of the page's data ECC (see flash package) so tag corruption can be
// detected even when data ECC is disabled.
func checksum(serial uint16, typ NodeType, pageID uint8, blockTS uint8, blockIndex uint16, dataLen uint16) uint16 {
	var buf [8]byte
	bitio.PutUint16(buf[0:2], 0, serial)
	buf[2] = byte(typ)<<2 | (blockTS & 0x3)
	buf[3] = pageID
	bitio.PutUint16(buf[4:6], 0, blockIndex)
	bitio.PutUint16(buf[6:8], 0, dataLen)
	h := xxhash.New64()
	h.Write(buf[:])
	return uint16(h.Sum64())
}

// Seal fills in TagECC from the other fields.
func (t *PageTag) Seal() {
	t.TagECC = checksum(t.Serial, t.Type, t.PageID, t.BlockTS, t.BlockIndex, t.DataLen)
}

// Valid reports whether TagECC matches the other fields.
func (t PageTag) Valid() bool {
	return t.TagECC == checksum(t.Serial, t.Type, t.PageID, t.BlockTS, t.BlockIndex, t.DataLen)
}

// Encode serializes the tag into dst[0:TagSize]. dst must have length
// >= TagSize.
func (t PageTag) Encode(dst []byte) {
	bitio.PutUint16(dst, 0, t.Serial)
	dst[2] = byte(t.Type)<<2 | (t.BlockTS & 0x3)
	dst[3] = t.PageID
	bitio.PutUint16(dst, 4, t.BlockIndex)
	bitio.PutUint16(dst, 6, t.DataLen)
	bitio.PutUint16(dst, 8, t.TagECC)
}

// Decode parses a tag from src[0:TagSize].
func Decode(src []byte) PageTag {
	return PageTag{
		Serial:     bitio.Uint16(src, 0),
		Type:       NodeType(src[2] >> 2),
		BlockTS:    src[2] & 0x3,
		PageID:     src[3],
		BlockIndex: bitio.Uint16(src, 4),
		DataLen:    bitio.Uint16(src, 6),
		TagECC:     bitio.Uint16(src, 8),
	}
}

// Newer implements spec §3's 3-way circular order over the 2-bit block_ts
// counter: a is newer than b iff (a-b) mod 4 == 1. Ties (including the
// case a==b) are not "newer"; callers fall through to the valid-page-count
// and lowest-physical-block tie-break of spec §4.5.
func Newer(a, b uint8) bool {
	return (a-b)&0x3 == 1
}

// NextTS returns the block_ts a fresh copy-forward target should carry:
// (prev+1) mod 4, or 0 if there is no prior copy.
func NextTS(prev uint8, hasPrior bool) uint8 {
	if !hasPrior {
		return 0
	}
	return (prev + 1) & 0x3
}
