package spare

import "github.com/rogerz/uffs/internal/bitio"

// BlockSummary is the in-memory decoding of one block's page tags, per
// spec §3's "Block summary (in-memory)". It is what blockcache.Cache
// stores per entry.
type BlockSummary struct {
	Block   uint32 // physical block number
	Serial  uint16 // derived (serial, type) from the first valid page
	Type    NodeType
	BlockTS uint8
	Valid   *bitio.Bitset // one bit per page: was its tag readable and ECC-valid
	Used    int           // count of valid pages
	Tags    []PageTag     // decoded tag per page, index-aligned with Valid
	seeded  bool          // whether Serial/Type/BlockTS were set from a first valid page
}

// NewBlockSummary allocates an empty summary for a block with the given
// page count.
func NewBlockSummary(block uint32, pagesPerBlock int) *BlockSummary {
	return &BlockSummary{
		Block: block,
		Valid: bitio.NewBitset(pagesPerBlock),
		Tags:  make([]PageTag, pagesPerBlock),
	}
}

// Observe records a decoded tag for page index i. The first valid page
// determines Serial/Type/BlockTS per spec §3; subsequent pages are only
// counted, not used to override the block's identity (invariant: all
// valid pages in a data block share the same serial).
func (s *BlockSummary) Observe(i int, tag PageTag, ok bool) {
	if !ok {
		s.Valid.Clear(i)
		return
	}
	if !s.Valid.Get(i) {
		s.Used++
	}
	s.Valid.Set(i)
	s.Tags[i] = tag
	if !s.seeded {
		s.Serial = tag.Serial
		s.Type = tag.Type
		s.BlockTS = tag.BlockTS
		s.seeded = true
	}
}

// IsEmpty reports whether no page in the block carries a valid tag.
func (s *BlockSummary) IsEmpty() bool { return s.Used == 0 }
