package bufpool

import (
	"container/list"

	"github.com/rogerz/uffs/config"
	"github.com/rogerz/uffs/ffserr"
	"github.com/rogerz/uffs/logger"
)

// key identifies a buffer by its logical owner: the node, which of its
// data blocks, and the page within that data block. Header pages always
// use logicalIndex 0.
type key struct {
	serial       uint16
	logicalIndex uint32
	pageID       uint8
}

// FlushFunc is called by the pool when a dirty group must be flushed:
// either it hit MaxDirtyPagesInBlock, or a fourth distinct dirty group
// would otherwise need to open. The pool has no notion of how a flush
// works (that is package flush's job); this is the seam spec §2's data
// flow diagram draws between "page buffer pool" and "flush engine".
type FlushFunc func(serial uint16) error

// Pool is the fixed-size page buffer pool of spec §4.3.
type Pool struct {
	cfg   *config.Config
	flush FlushFunc

	all  []*Buffer // the fixed MaxPageBuffers-sized backing array
	free []*Buffer // buffers with RefCount==0 and Dirty==false

	byKey map[key]*Buffer

	groups     map[uint16]*group
	groupOrder *list.List // front = most recently touched group
	groupElems map[uint16]*list.Element
}

// New allocates a Pool per cfg's budgets (spec §4.3, defaults recovered
// in config.Default from the original uffs_config.h), sizing each
// buffer's Data to attrs.PageDataSize.
func New(cfg *config.Config, attrs config.StorageAttrs, flushFn FlushFunc) *Pool {
	p := &Pool{
		cfg:        cfg,
		flush:      flushFn,
		all:        make([]*Buffer, cfg.MaxPageBuffers),
		byKey:      make(map[key]*Buffer),
		groups:     make(map[uint16]*group),
		groupOrder: list.New(),
		groupElems: make(map[uint16]*list.Element),
	}
	for i := range p.all {
		b := &Buffer{Block: -1, Page: -1, Data: make([]byte, attrs.PageDataSize)}
		p.all[i] = b
		p.free = append(p.free, b)
	}
	return p
}

// SetFlushFunc installs (or replaces) the callback FlushGroup invokes.
// Needed because flush.Engine itself depends on the Pool it registers
// into, so construction order wires this after both exist.
func (p *Pool) SetFlushFunc(fn FlushFunc) { p.flush = fn }

// Find returns the buffer currently holding (serial, logicalIndex, pageID),
// if any.
func (p *Pool) Find(serial uint16, logicalIndex uint32, pageID uint8) *Buffer {
	return p.byKey[key{serial, logicalIndex, pageID}]
}

// Acquire returns a buffer for (serial, logicalIndex, pageID), allocating a
// fresh, previously-free slot (or reusing the existing one) — but never
// evicting a dirty buffer (spec §4.3: "never a dirty one — if no clean
// candidate exists, the caller must force a flush first"). isHeader marks
// the buffer as belonging to the node's header-page group rather than a
// data block, since both otherwise share logicalIndex 0.
func (p *Pool) Acquire(serial uint16, logicalIndex uint32, pageID uint8, isHeader bool) (*Buffer, error) {
	k := key{serial, logicalIndex, pageID}
	if b, ok := p.byKey[k]; ok {
		b.RefCount++
		return b, nil
	}

	b, err := p.takeFreeBuffer()
	if err != nil {
		return nil, err
	}
	b.reset()
	b.Serial, b.LogicalIndex, b.PageID, b.IsHeader = serial, logicalIndex, pageID, isHeader
	b.RefCount = 1
	p.byKey[k] = b
	return b, nil
}

// AcquireClone reserves one of the CloneBuffersThreshold buffers so the
// flush engine can always copy a source page forward alongside a dirty
// page (spec §4.3 "Clone reservation"). These buffers are never tracked
// under a (serial, pageID) key; the caller owns the returned Buffer's
// lifetime directly and must call ReleaseClone.
func (p *Pool) AcquireClone() (*Buffer, error) {
	if len(p.free) == 0 {
		return nil, ffserr.New("bufpool.AcquireClone", ffserr.NoMemory)
	}
	b := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	b.reset()
	b.RefCount = 1
	return b, nil
}

// ReleaseClone returns a clone buffer to the free pool.
func (p *Pool) ReleaseClone(b *Buffer) {
	b.reset()
	p.free = append(p.free, b)
}

func (p *Pool) takeFreeBuffer() (*Buffer, error) {
	clonesReserved := p.cfg.CloneBuffersThreshold
	if len(p.free) > clonesReserved {
		b := p.free[0]
		p.free = p.free[1:]
		return b, nil
	}
	return nil, ffserr.New("bufpool.Acquire", ffserr.NoMemory)
}

// MarkDirty moves b into its serial's dirty group, triggering a flush of
// that group if it would exceed MaxDirtyPagesInBlock, or evicting the
// least-recently-touched group first if a fourth distinct group would
// otherwise open (spec §4.3).
func (p *Pool) MarkDirty(b *Buffer) error {
	if b.Dirty {
		return nil
	}
	g, isNew := p.groupFor(b.Serial)
	if !isNew && g.hasLogical && (g.logicalIndex != b.LogicalIndex || g.isHeader != b.IsHeader) {
		// A serial has at most one logical block actively dirty at a
		// time (sequential fill, spec §4.3): moving on to the next one
		// forces the prior group out first rather than silently
		// colliding on reused page IDs.
		if err := p.FlushGroup(b.Serial); err != nil {
			return err
		}
		g, isNew = p.groupFor(b.Serial)
	}
	if isNew && len(p.groups) > p.cfg.MaxDirtyBufGroups {
		if err := p.evictOldestGroup(b.Serial); err != nil {
			return err
		}
	}
	b.Dirty = true
	g.add(b)
	p.touchGroup(b.Serial)

	if g.len() > p.cfg.MaxDirtyPagesInBlock {
		logger.Debugf("dirty group %d reached cap (%d pages), flushing", b.Serial, g.len())
		return p.FlushGroup(b.Serial)
	}
	return nil
}

func (p *Pool) groupFor(serial uint16) (*group, bool) {
	if g, ok := p.groups[serial]; ok {
		return g, false
	}
	g := newGroup(serial)
	p.groups[serial] = g
	return g, true
}

func (p *Pool) touchGroup(serial uint16) {
	if el, ok := p.groupElems[serial]; ok {
		p.groupOrder.MoveToFront(el)
		return
	}
	el := p.groupOrder.PushFront(serial)
	p.groupElems[serial] = el
}

func (p *Pool) evictOldestGroup(exclude uint16) error {
	for el := p.groupOrder.Back(); el != nil; el = el.Prev() {
		serial := el.Value.(uint16)
		if serial == exclude {
			continue
		}
		if _, ok := p.groups[serial]; ok {
			return p.FlushGroup(serial)
		}
	}
	return nil
}

// FlushGroup invokes the registered FlushFunc for serial, then drops the
// bookkeeping for that group — the flush engine itself is responsible
// for calling MarkClean/Release on the buffers it drained.
func (p *Pool) FlushGroup(serial uint16) error {
	if p.flush == nil {
		return ffserr.New("bufpool.FlushGroup", ffserr.InvalidArg)
	}
	if err := p.flush(serial); err != nil {
		return err
	}
	if el, ok := p.groupElems[serial]; ok {
		p.groupOrder.Remove(el)
		delete(p.groupElems, serial)
	}
	delete(p.groups, serial)
	return nil
}

// Group returns the buffers currently dirty for serial, in insertion
// order (oldest first), for the flush engine to drain.
func (p *Pool) Group(serial uint16) []*Buffer {
	g, ok := p.groups[serial]
	if !ok {
		return nil
	}
	return g.buffers()
}

// GroupInfo reports which logical slot serial's dirty group currently
// belongs to, so the flush engine knows whether it is copy-forwarding a
// header page or a data block.
func (p *Pool) GroupInfo(serial uint16) (logicalIndex uint32, isHeader bool, ok bool) {
	g, ok := p.groups[serial]
	if !ok || !g.hasLogical {
		return 0, false, false
	}
	return g.logicalIndex, g.isHeader, true
}

// MarkClean clears b's dirty flag and removes it from its group, called
// by the flush engine once a page has been durably programmed.
func (p *Pool) MarkClean(b *Buffer) {
	if !b.Dirty {
		return
	}
	b.Dirty = false
	if g, ok := p.groups[b.Serial]; ok {
		g.remove(b.PageID)
	}
}

// Release decrements b's reference count; at zero and clean, it becomes
// eligible for reuse by Acquire.
func (p *Pool) Release(b *Buffer) {
	if b.RefCount > 0 {
		b.RefCount--
	}
	if b.RefCount == 0 && !b.Dirty {
		delete(p.byKey, key{b.Serial, b.LogicalIndex, b.PageID})
		p.free = append(p.free, b)
	}
}

// DirtyGroupCount reports how many distinct serials currently hold dirty
// pages, bounded by MaxDirtyBufGroups.
func (p *Pool) DirtyGroupCount() int { return len(p.groups) }
