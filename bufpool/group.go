package bufpool

import "container/list"

// group is the "dirty group" of spec §4.3: the set of dirty buffers
// belonging to one serial, awaiting flush. A serial has at most one
// logical block actively dirty at a time under the single-threaded
// cooperative model of spec §5 (sequential writes fill one data block
// before moving to the next); logicalIndex records which one. Modeled
// after the teacher's FlushBlockList (container/list plus a side index
// for O(1) membership checks), but keyed per-owner instead of being one
// pool-wide list.
type group struct {
	serial       uint16
	logicalIndex uint32
	isHeader     bool
	hasLogical   bool
	pages        *list.List // of *Buffer, oldest dirty first
	byPage       map[uint8]*list.Element
}

func newGroup(serial uint16) *group {
	return &group{serial: serial, pages: list.New(), byPage: make(map[uint8]*list.Element)}
}

func (g *group) add(b *Buffer) {
	if !g.hasLogical {
		g.logicalIndex = b.LogicalIndex
		g.isHeader = b.IsHeader
		g.hasLogical = true
	}
	if _, ok := g.byPage[b.PageID]; ok {
		return
	}
	el := g.pages.PushBack(b)
	g.byPage[b.PageID] = el
}

func (g *group) remove(pageID uint8) {
	if el, ok := g.byPage[pageID]; ok {
		g.pages.Remove(el)
		delete(g.byPage, pageID)
	}
	if g.pages.Len() == 0 {
		g.hasLogical = false
	}
}

func (g *group) len() int { return g.pages.Len() }

func (g *group) buffers() []*Buffer {
	out := make([]*Buffer, 0, g.pages.Len())
	for el := g.pages.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Buffer))
	}
	return out
}
