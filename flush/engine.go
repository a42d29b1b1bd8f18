// Package flush implements the copy-forward commit engine of spec §4.5:
// the procedure that drains a dirty group to a freshly erased block,
// swaps the tree's pointer, and reclaims the old block, such that a crash
// at any point leaves either the pre-flush or the post-flush state
// observable, never a mixture.
//
// Grounded in the teacher's buffer_pool.FlushDirtyPages (drain-a-list-
// until-empty shape) and storage/wrapper/space/extent.go's allocation
// bookkeeping, repurposed from per-tablespace extents to per-partition
// erased-block accounting.
package flush

import (
	"github.com/rogerz/uffs/blockcache"
	"github.com/rogerz/uffs/bufpool"
	"github.com/rogerz/uffs/config"
	"github.com/rogerz/uffs/ffserr"
	"github.com/rogerz/uffs/flash"
	"github.com/rogerz/uffs/logger"
	"github.com/rogerz/uffs/spare"
	"github.com/rogerz/uffs/tree"
)

// Engine drains one dirty group at a time, per the single-threaded
// cooperative model of spec §5 (no concurrent flushes).
type Engine struct {
	cfg   *config.Config
	dev   *flash.Device
	tree  *tree.Tree
	pool  *bufpool.Pool
	cache *blockcache.Cache

	state state
}

// New wires an Engine over the given collaborators. Callers typically
// pass Engine.FlushSerial as the bufpool.FlushFunc for pool.
func New(dev *flash.Device, t *tree.Tree, pool *bufpool.Pool, cache *blockcache.Cache, cfg *config.Config) *Engine {
	return &Engine{cfg: cfg, dev: dev, tree: t, pool: pool, cache: cache, state: Idle}
}

// State reports the engine's current state, for logging/diagnostics only.
func (e *Engine) State() string { return e.state.String() }

// FlushSerial drains serial's current dirty group to a fresh block and
// commits the tree pointer swap. It is registered as the pool's
// bufpool.FlushFunc; a serial with no dirty group is a no-op.
func (e *Engine) FlushSerial(serial uint16) error {
	logicalIndex, isHeader, ok := e.pool.GroupInfo(serial)
	if !ok {
		return nil
	}
	buffers := e.pool.Group(serial)

	node := e.tree.Node(serial)
	if node == nil {
		return ffserr.New("flush.FlushSerial", ffserr.NoEntry)
	}

	var nodeType spare.NodeType
	var sourceBlock int
	var sourceTS uint8
	var hasPrior bool

	if isHeader {
		nodeType = node.NodeType()
		if node.HeaderBlk != tree.NoBlock {
			sourceBlock, sourceTS, hasPrior = node.HeaderBlk, node.BlockTS, true
		}
	} else {
		nodeType = spare.TypeData
		if entry, found := e.tree.DataBlock(serial, logicalIndex); found {
			sourceBlock, sourceTS, hasPrior = entry.Block, entry.BlockTS, true
		}
	}

	for {
		e.state = PickTarget
		target, err := e.pickTarget()
		if err != nil {
			return err
		}

		newTS := spare.NextTS(sourceTS, hasPrior)

		e.state = CopyForward
		writeErr := e.copyForward(target, serial, logicalIndex, nodeType, newTS, hasPrior, sourceBlock, buffers)
		if writeErr != nil {
			logger.Warnf("flush: copy-forward of serial %d to block %d failed: %v, retiring target", serial, target, writeErr)
			e.retireFailedTarget(target)
			continue
		}

		e.state = Commit
		if isHeader {
			if err := e.tree.SetHeaderBlock(serial, target, newTS); err != nil {
				return err
			}
		} else {
			e.tree.SetDataBlock(serial, logicalIndex, target, newTS)
		}
		e.cache.Invalidate(uint32(target))

		e.state = EraseOld
		if hasPrior {
			if err := e.dev.EraseBlock(sourceBlock); err != nil {
				logger.Warnf("flush: erase of old block %d failed: %v, marking bad", sourceBlock, err)
				e.tree.MarkBad(sourceBlock)
			} else {
				e.tree.MarkErased(sourceBlock)
			}
			e.cache.Invalidate(uint32(sourceBlock))
		}

		for _, b := range buffers {
			e.pool.MarkClean(b)
			e.pool.Release(b)
		}
		e.state = Idle
		return nil
	}
}

// pickTarget selects an erased block, refusing to dip below
// cfg.MinErasedBlock reserve once this allocation is accounted for
// (spec I3 / §4.5 step 1: "if none meets the MIN_ERASED floor after
// allocation, fail with no-space").
func (e *Engine) pickTarget() (int, error) {
	if e.tree.ErasedCount() <= e.cfg.MinErasedBlock {
		return 0, ffserr.New("flush.pickTarget", ffserr.NoSpace)
	}
	block, ok := e.tree.TakeErased()
	if !ok {
		return 0, ffserr.New("flush.pickTarget", ffserr.NoSpace)
	}
	return block, nil
}

// copyForward programs target's pages: dirty buffers take priority, the
// remaining pages are read-and-copied forward from sourceBlock (spec
// §4.5 step 4) using a reserved clone buffer.
func (e *Engine) copyForward(target int, serial uint16, logicalIndex uint32, typ spare.NodeType, ts uint8, hasPrior bool, sourceBlock int, buffers []*bufpool.Buffer) error {
	attrs := e.dev.Attrs()

	byPage := make(map[uint8]*bufpool.Buffer, len(buffers))
	for _, b := range buffers {
		byPage[b.PageID] = b
	}

	for idx := 0; idx < attrs.PagesPerBlock; idx++ {
		pageID := uint8(idx)

		var data []byte
		var dataLen int
		var clone *bufpool.Buffer

		switch {
		case byPage[pageID] != nil:
			b := byPage[pageID]
			data = b.Data
			dataLen = len(b.Data)
		case hasPrior:
			rdata, rspare, err := e.dev.ReadPage(sourceBlock, idx)
			if err != nil {
				if fe, ok := ffserr.As(err); ok && fe.Kind == ffserr.ECCUnrecoverable {
					continue
				}
				return err
			}
			srcTag := spare.Decode(rspare)
			if !srcTag.Valid() || srcTag.Serial != serial || srcTag.PageID != pageID ||
				(typ == spare.TypeData && srcTag.BlockIndex != uint16(logicalIndex)) {
				continue
			}
			var cerr error
			clone, cerr = e.pool.AcquireClone()
			if cerr != nil {
				return cerr
			}
			copy(clone.Data, rdata)
			data = clone.Data
			dataLen = int(srcTag.DataLen)
		default:
			continue
		}

		var blockIndex uint16
		if typ == spare.TypeData {
			blockIndex = uint16(logicalIndex)
		}
		tag := spare.PageTag{Serial: serial, Type: typ, PageID: pageID, BlockTS: ts, BlockIndex: blockIndex, DataLen: uint16(dataLen)}
		tag.Seal()
		spareBuf := make([]byte, attrs.SpareSize())
		tag.Encode(spareBuf)

		err := e.dev.WritePage(target, idx, data, spareBuf)
		if clone != nil {
			e.pool.ReleaseClone(clone)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// retireFailedTarget implements spec §4.5 step 5: erase the failed
// target; if the erase itself fails, mark the block permanently bad.
// Either way the block leaves this flush attempt behind, and pickTarget
// chooses a different one on the next loop iteration.
func (e *Engine) retireFailedTarget(target int) {
	e.state = EraseTarget
	if err := e.dev.EraseBlock(target); err != nil {
		e.state = MarkBad
		logger.Errorf("flush: erase of failed target %d also failed: %v, marking bad", target, err)
		if berr := e.dev.MarkBad(target); berr != nil {
			logger.Errorf("flush: mark-bad of target %d failed: %v", target, berr)
		}
		e.tree.MarkBad(target)
		return
	}
	e.tree.MarkErased(target)
}
