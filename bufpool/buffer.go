// Package bufpool implements the page buffer pool of spec §4.3: a fixed
// pool of page-sized buffers indexed by (serial, logical_block_index,
// page_id), organized into per-serial dirty groups with a reserved clone
// allowance for the flush engine.
//
// Grounded in the teacher's buffer_pool/buffer_pool.go (BufferPool,
// FreeBlockList, FlushBlockList) and buffer_pool/buffer_block.go
// (BufferBlock wrapping a page), generalized from per-tablespace-page
// buffers to the (serial, logical block, page) buffers this spec
// defines.
package bufpool

// Buffer is one page-sized slot in the pool. LogicalIndex names which of
// the owning node's data blocks this page belongs to; PageID is the
// page's position within that logical block. IsHeader distinguishes a
// node's header-page group (LogicalIndex meaningless, always 0) from its
// data-block groups, since both otherwise key off logical index 0.
type Buffer struct {
	Serial       uint16
	LogicalIndex uint32
	PageID       uint8
	IsHeader     bool
	Block        int // physical block, once materialized; -1 if not yet known
	Page         int // physical page within Block
	Data         []byte
	Dirty        bool
	RefCount     int

	materialized bool
}

// Materialized reports whether Block/Page name a physical location this
// buffer was read from (as opposed to a brand-new dirty page with no
// flash location yet).
func (b *Buffer) Materialized() bool { return b.materialized }

// SetPhysical records block/page as the physical location this buffer's
// content was loaded from, called by a caller (typically the object
// layer) after a read-modify-write load from flash.
func (b *Buffer) SetPhysical(block, page int) {
	b.Block, b.Page = block, page
	b.materialized = true
}

func (b *Buffer) reset() {
	b.Serial, b.LogicalIndex, b.PageID = 0, 0, 0
	b.IsHeader = false
	b.Block, b.Page = -1, -1
	b.Dirty = false
	b.RefCount = 0
	b.materialized = false
}
