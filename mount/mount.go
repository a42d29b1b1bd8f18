// Package mount implements scan/format/recovery of spec §4.6: rebuilding
// the in-memory tree from scattered on-flash metadata, or seeding a fresh
// partition, and owning the coarse device lock every public operation
// above it acquires.
//
// Grounded in the teacher's manager/recover_manager.go (startup redo-log
// replay that reconstructs in-memory state from durable pages) and
// space/space_manager.go's free-extent bootstrap scan, generalized from
// InnoDB's redo-log recovery to scanning every block's spare area
// directly (this system keeps no separate journal).
package mount

import (
	"sync"

	"github.com/rogerz/uffs/blockcache"
	"github.com/rogerz/uffs/bufpool"
	"github.com/rogerz/uffs/config"
	"github.com/rogerz/uffs/ffserr"
	"github.com/rogerz/uffs/flash"
	"github.com/rogerz/uffs/flush"
	"github.com/rogerz/uffs/logger"
	"github.com/rogerz/uffs/spare"
	"github.com/rogerz/uffs/tree"
)

// Mount is the assembled, running partition: device, tree, buffer pool,
// block-info cache and flush engine, guarded by one coarse lock per
// spec §5 ("all public operations assume the caller holds a coarse
// device lock").
type Mount struct {
	sync.Mutex

	Device *flash.Device
	Tree   *tree.Tree
	Pool   *bufpool.Pool
	Cache  *blockcache.Cache
	Flush  *flush.Engine

	cfg   *config.Config
	attrs config.StorageAttrs
}

func assemble(driver flash.Driver, attrs config.StorageAttrs, cfg *config.Config) (*Mount, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := driver.Init(); err != nil {
		return nil, ffserr.Wrap("mount.assemble", ffserr.IOError, err)
	}

	dev := flash.NewDevice(driver, attrs, cfg)
	t := tree.New()
	cache := blockcache.New(dev, cfg.MaxCachedBlockInfo)
	pool := bufpool.New(cfg, attrs, nil)
	engine := flush.New(dev, t, pool, cache, cfg)
	pool.SetFlushFunc(engine.FlushSerial)

	return &Mount{Device: dev, Tree: t, Pool: pool, Cache: cache, Flush: engine, cfg: cfg, attrs: attrs}, nil
}

// Config returns the runtime policy this Mount was opened with.
func (m *Mount) Config() *config.Config { return m.cfg }

// Attrs returns the storage attributes this Mount was opened with.
func (m *Mount) Attrs() config.StorageAttrs { return m.attrs }

// Format erases every non-bad block and seeds a root directory header by
// asking the tree's wear-aware erased-block selection for a target; every
// block shares the same freshly-reset erase count at format time, so this
// first call picks the lowest physical block number, same tie-break every
// later selection falls back to once counts diverge (spec §4.6, §4.5, P7).
func Format(driver flash.Driver, attrs config.StorageAttrs, cfg *config.Config) (*Mount, error) {
	m, err := assemble(driver, attrs, cfg)
	if err != nil {
		return nil, err
	}

	for b := 0; b < attrs.TotalBlocks; b++ {
		bad, err := m.Device.IsBad(b)
		if err != nil {
			return nil, err
		}
		if bad {
			m.Tree.MarkBad(b)
			continue
		}
		if err := m.Device.EraseBlock(b); err != nil {
			logger.Warnf("format: erase of block %d failed: %v, marking bad", b, err)
			m.Tree.MarkBad(b)
			continue
		}
		if cfg.BadBlockVerifyOnFormat {
			if !m.blockReadsErased(b) {
				logger.Warnf("format: block %d failed post-erase verification, marking bad", b)
				m.Tree.MarkBad(b)
				if merr := m.Device.MarkBad(b); merr != nil {
					logger.Errorf("format: mark-bad of block %d failed: %v", b, merr)
				}
				continue
			}
		}
		m.Tree.MarkErased(b)
	}

	root, ok := m.Tree.TakeErased()
	if !ok {
		return nil, ffserr.New("mount.Format", ffserr.NoSpace)
	}
	rootNode := &tree.Node{
		Serial:    tree.RootSerial,
		Parent:    tree.RootSerial,
		IsDir:     true,
		Name:      "/",
		HeaderBlk: tree.NoBlock,
	}
	if err := m.writeHeader(root, rootNode, spare.NextTS(0, false)); err != nil {
		return nil, err
	}
	rootNode.HeaderBlk = root
	m.Tree.AddNode(rootNode)

	return m, nil
}

// writeHeader programs n's header page directly onto block, bypassing the
// flush engine's dirty-group/copy-forward machinery: Format uses it to
// seed the root directory on a brand-new block, and CommitHeader for every
// later header rewrite. n.BlockTS is set to ts before the write is issued.
func (m *Mount) writeHeader(block int, n *tree.Node, ts uint8) error {
	data := make([]byte, m.attrs.PageDataSize)
	dataLen := tree.EncodeHeader(n, data)
	tag := spare.PageTag{Serial: n.Serial, Type: n.NodeType(), PageID: 0, BlockTS: ts, DataLen: uint16(dataLen)}
	tag.Seal()
	spareBuf := make([]byte, m.attrs.SpareSize())
	tag.Encode(spareBuf)
	n.BlockTS = ts
	return m.Device.WritePage(block, 0, data, spareBuf)
}

// blockReadsErased verifies block's page 0 data reads back as the
// driver's erased pattern, using a raw (non-ECC-corrected) read since an
// erased page carries no valid ECC by construction.
func (m *Mount) blockReadsErased(block int) bool {
	data, _, err := m.Device.ReadRaw(block, 0)
	if err != nil {
		return false
	}
	for _, b := range data {
		if b != 0xFF {
			return false
		}
	}
	return true
}
