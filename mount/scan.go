package mount

import (
	"github.com/rogerz/uffs/config"
	"github.com/rogerz/uffs/ffserr"
	"github.com/rogerz/uffs/flash"
	"github.com/rogerz/uffs/logger"
	"github.com/rogerz/uffs/spare"
	"github.com/rogerz/uffs/tree"
)

// Open scans every block of the partition and reconstructs the tree from
// whatever valid page tags survive, applying the recovery rule of spec
// §4.5 whenever two blocks claim the same (serial[, logical_block_index])
// slot, then enforces the orphan policy (spec §4.6).
func Open(driver flash.Driver, attrs config.StorageAttrs, cfg *config.Config) (*Mount, error) {
	m, err := assemble(driver, attrs, cfg)
	if err != nil {
		return nil, err
	}

	headerValid := make(map[uint16]int)
	dataValid := make(map[tree.DataBlockKey]int)

	for b := 0; b < attrs.TotalBlocks; b++ {
		bad, err := m.Device.IsBad(b)
		if err != nil {
			return nil, err
		}
		if bad {
			m.Tree.MarkBad(b)
			continue
		}

		tag, pageUsed, found, err := m.readBlockTag(b)
		if err != nil {
			return nil, err
		}
		if !found {
			m.reclaimUntaggedBlock(b)
			continue
		}

		validCount, err := m.validPageCount(b)
		if err != nil {
			return nil, err
		}

		switch tag.Type {
		case spare.TypeFileHeader, spare.TypeDirHeader:
			if err := m.mergeHeader(b, pageUsed, tag, validCount, headerValid); err != nil {
				return nil, err
			}
		case spare.TypeData:
			if err := m.mergeData(b, tag, validCount, dataValid); err != nil {
				return nil, err
			}
		}
	}

	if err := m.resolveOrphans(); err != nil {
		return nil, err
	}
	return m, nil
}

// readBlockTag reads block's page 0 spare, falling back to page 1 if
// page 0's tag does not validate (spec §4.6: "read spare of page 0... if
// unreadable, attempt page 1"). Tags are checked with their own
// checksum, independent of data ECC, so a raw (uncorrected) spare read
// is always used here.
func (m *Mount) readBlockTag(block int) (tag spare.PageTag, page int, found bool, err error) {
	for _, p := range []int{0, 1} {
		_, sp, rerr := m.Device.ReadRaw(block, p)
		if rerr != nil {
			continue
		}
		if len(sp) < spare.TagSize {
			continue
		}
		t := spare.Decode(sp[:spare.TagSize])
		if t.Valid() {
			return t, p, true, nil
		}
	}
	return spare.PageTag{}, 0, false, nil
}

// validPageCount scans block's full tag set via the block cache, used as
// the recovery rule's tie-break once block_ts is equally new.
func (m *Mount) validPageCount(block int) (int, error) {
	summary, err := m.Cache.Get(uint32(block))
	if err != nil {
		return 0, err
	}
	n := summary.Used
	m.Cache.Unpin(uint32(block))
	return n, nil
}

// reclaimUntaggedBlock handles a block with no valid tag on either of its
// first two pages: verified-erased blocks join the erased list directly;
// anything else is assumed torn (e.g. a write interrupted before the tag
// could be sealed) and is erased before joining it, per spec §4.6.
func (m *Mount) reclaimUntaggedBlock(block int) {
	if m.blockReadsErased(block) {
		m.Tree.MarkErased(block)
		return
	}
	logger.Warnf("mount: block %d carries no valid tag and is not erased, reclaiming", block)
	if err := m.Device.EraseBlock(block); err != nil {
		m.Tree.MarkBad(block)
		return
	}
	m.Tree.MarkErased(block)
}

func (m *Mount) mergeHeader(block, page int, tag spare.PageTag, validCount int, headerValid map[uint16]int) error {
	existing := m.Tree.Node(tag.Serial)
	if existing == nil {
		n, err := m.decodeHeaderAt(block, page, tag)
		if err != nil {
			return err
		}
		m.Tree.AddNode(n)
		headerValid[tag.Serial] = validCount
		return nil
	}

	winner, loser := tree.Resolve(existing.HeaderBlk, existing.BlockTS, headerValid[tag.Serial], block, tag.BlockTS, validCount)
	if loser == block {
		logger.Debugf("mount: block %d loses header recovery race for serial %d, reclaiming", block, tag.Serial)
		m.reclaimLoser(block)
		return nil
	}

	n, err := m.decodeHeaderAt(block, page, tag)
	if err != nil {
		return err
	}
	m.Tree.ReplaceNode(n)
	headerValid[tag.Serial] = validCount
	logger.Debugf("mount: block %d wins header recovery race for serial %d, reclaiming block %d", winner, tag.Serial, loser)
	m.reclaimLoser(loser)
	return nil
}

func (m *Mount) decodeHeaderAt(block, page int, tag spare.PageTag) (*tree.Node, error) {
	data, _, err := m.Device.ReadPage(block, page)
	if err != nil {
		return nil, err
	}
	n, err := tree.DecodeHeader(tag.Serial, data, int(tag.DataLen))
	if err != nil {
		return nil, ffserr.Wrap("mount.decodeHeaderAt", ffserr.IOError, err)
	}
	n.HeaderBlk = block
	n.BlockTS = tag.BlockTS
	return n, nil
}

func (m *Mount) mergeData(block int, tag spare.PageTag, validCount int, dataValid map[tree.DataBlockKey]int) error {
	key := tree.DataBlockKey{Serial: tag.Serial, Index: uint32(tag.BlockIndex)}
	existing, ok := m.Tree.DataBlock(key.Serial, key.Index)
	if !ok {
		m.Tree.SetDataBlock(key.Serial, key.Index, block, tag.BlockTS)
		dataValid[key] = validCount
		return nil
	}

	winner, loser := tree.Resolve(existing.Block, existing.BlockTS, dataValid[key], block, tag.BlockTS, validCount)
	if loser == block {
		m.reclaimLoser(block)
		return nil
	}
	m.Tree.SetDataBlock(key.Serial, key.Index, block, tag.BlockTS)
	dataValid[key] = validCount
	m.reclaimLoser(loser)
	return nil
}

// reclaimLoser erases a block that lost a mount-time recovery race,
// implementing the "erase the other" half of spec §4.5's recovery rule.
func (m *Mount) reclaimLoser(block int) {
	m.Cache.Invalidate(uint32(block))
	if err := m.Device.EraseBlock(block); err != nil {
		m.Tree.MarkBad(block)
		return
	}
	m.Tree.MarkErased(block)
}

// resolveOrphans enforces the configured policy on nodes whose parent
// directory no longer exists after the scan (spec §4.6).
func (m *Mount) resolveOrphans() error {
	for _, n := range m.Tree.AllNodes() {
		if n.Serial == tree.RootSerial {
			continue
		}
		if parent := m.Tree.Node(n.Parent); parent != nil && parent.IsDir {
			continue
		}
		logger.Warnf("mount: node %d (%q) is orphaned, applying orphan policy", n.Serial, n.Name)
		switch m.cfg.OrphanPolicy {
		case config.OrphanReparentToRoot:
			n.Parent = tree.RootSerial
			if err := m.CommitHeader(n); err != nil {
				return err
			}
		default:
			if err := m.ReclaimNode(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReclaimNode deletes a node and erases every block it exclusively
// occupied (its header page and all of its data blocks). Used by mount's
// orphan sweep and by the object layer's remove/rmdir.
func (m *Mount) ReclaimNode(n *tree.Node) error {
	blocks := make(map[int]bool)
	if n.HeaderBlk != tree.NoBlock {
		blocks[n.HeaderBlk] = true
	}
	for _, e := range m.Tree.DataBlocksOf(n.Serial) {
		blocks[e.Block] = true
	}
	m.Tree.RemoveNode(n.Serial)
	for blk := range blocks {
		m.reclaimLoser(blk)
	}
	return nil
}

// CommitHeader programs n's header page onto a fresh erased block and
// swaps the tree's pointer to it, then reclaims the old header block if
// any — the copy-forward commit rule of spec §4.5 applied directly to a
// header page outside the bufpool/flush path. The object layer uses this
// for metadata-only updates (create, mkdir, rename, stat mutation) that
// never accumulate dirty data pages; mount uses it to persist an
// orphan's re-parenting discovered mid-scan.
func (m *Mount) CommitHeader(n *tree.Node) error {
	target, ok := m.Tree.TakeErased()
	if !ok {
		return ffserr.New("mount.commitHeaderRewrite", ffserr.NoSpace)
	}
	hadPrior := n.HeaderBlk != tree.NoBlock
	newTS := spare.NextTS(n.BlockTS, hadPrior)
	old := n.HeaderBlk

	if err := m.writeHeader(target, n, newTS); err != nil {
		return err
	}
	n.HeaderBlk = target
	m.Tree.ReplaceNode(n)

	if hadPrior {
		m.reclaimLoser(old)
	}
	return nil
}
