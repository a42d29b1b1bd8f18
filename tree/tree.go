package tree

import (
	"container/list"
	"sync"

	"github.com/rogerz/uffs/ffserr"
	"github.com/rogerz/uffs/spare"
)

// Tree holds the five intrusive lists of spec §4.4: file, directory,
// data, erased, bad. Membership and key lookup are both O(1), using the
// same map+container/list shape the teacher's FreeBlockList/
// FlushBlockList use for their one list each.
type Tree struct {
	mu sync.RWMutex

	files map[uint16]*Node
	dirs  map[uint16]*Node

	data   map[DataBlockKey]*DataBlockEntry
	erased *list.List // of int (physical block)
	erasedElems map[int]*list.Element
	bad    map[int]bool

	eraseCount map[int]uint32 // per-block lifetime erase count, drives TakeErased's wear-leveling choice

	nextSerial uint16

	// childIndex is the optional auxiliary index spec §4.4 permits;
	// correctness must hold with it absent, so every mutation keeps it in
	// lockstep rather than relying on it being rebuilt lazily.
	childIndex map[uint16][]uint16
}

// New creates an empty Tree. Mount populates it by scanning flash;
// Format seeds it with just the root directory.
func New() *Tree {
	return &Tree{
		files:       make(map[uint16]*Node),
		dirs:        make(map[uint16]*Node),
		data:        make(map[DataBlockKey]*DataBlockEntry),
		erased:      list.New(),
		erasedElems: make(map[int]*list.Element),
		bad:         make(map[int]bool),
		eraseCount:  make(map[int]uint32),
		childIndex:  make(map[uint16][]uint16),
	}
}

// --- node lists -----------------------------------------------------

// AddNode inserts a file or directory node, maintaining the serial
// counter and child index.
func (t *Tree) AddNode(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n.IsDir {
		t.dirs[n.Serial] = n
	} else {
		t.files[n.Serial] = n
	}
	if n.Serial > t.nextSerial {
		t.nextSerial = n.Serial
	}
	t.childIndex[n.Parent] = append(t.childIndex[n.Parent], n.Serial)
}

// RemoveNode deletes a node and its data-block entries, and prunes it
// from the child index.
func (t *Tree) RemoveNode(serial uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.files[serial]
	if !ok {
		n, ok = t.dirs[serial]
	}
	if !ok {
		return
	}
	delete(t.files, serial)
	delete(t.dirs, serial)
	t.removeChildIndexLocked(n.Parent, serial)
	for k := range t.data {
		if k.Serial == serial {
			delete(t.data, k)
		}
	}
}

func (t *Tree) removeChildIndexLocked(parent, serial uint16) {
	kids := t.childIndex[parent]
	for i, s := range kids {
		if s == serial {
			t.childIndex[parent] = append(kids[:i], kids[i+1:]...)
			break
		}
	}
}

// ReplaceNode swaps in a node whose header fields changed (mount's
// recovery rule choosing a newer generation of the same serial); the
// node's data-block entries, which are independent (serial, index) rows,
// are left untouched.
func (t *Tree) ReplaceNode(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// The caller may have mutated n.Parent in place on the very node the
	// tree already holds (rename), so the old parent cannot be read back
	// from it: drop the serial from every index list, then re-add it.
	for p := range t.childIndex {
		t.removeChildIndexLocked(p, n.Serial)
	}
	t.childIndex[n.Parent] = append(t.childIndex[n.Parent], n.Serial)
	if n.IsDir {
		delete(t.files, n.Serial)
		t.dirs[n.Serial] = n
	} else {
		delete(t.dirs, n.Serial)
		t.files[n.Serial] = n
	}
	if n.Serial > t.nextSerial {
		t.nextSerial = n.Serial
	}
}

// AllNodes returns every file and directory node, for mount's orphan
// sweep after scanning.
func (t *Tree) AllNodes() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Node, 0, len(t.files)+len(t.dirs))
	for _, n := range t.files {
		out = append(out, n)
	}
	for _, n := range t.dirs {
		out = append(out, n)
	}
	return out
}

// Node returns the node with the given serial, or nil.
func (t *Tree) Node(serial uint16) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n, ok := t.files[serial]; ok {
		return n
	}
	return t.dirs[serial]
}

// Children lists the serials of nodes whose Parent is parent, computed
// on demand by scanning (spec §4.4: "Directory membership is not stored
// as an explicit child list; it is computed on demand"). The childIndex
// above is this module's permitted auxiliary index; this method is the
// ground truth either way and is used by tests asserting correctness
// independent of the index.
func (t *Tree) Children(parent uint16) []uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []uint16
	for s, n := range t.files {
		if n.Parent == parent && !n.Deleted {
			out = append(out, s)
		}
	}
	for s, n := range t.dirs {
		if n.Parent == parent && !n.Deleted {
			out = append(out, s)
		}
	}
	return out
}

// AllocSerial issues the next file/directory serial (spec §4.4: "new
// nodes are allocated max+1").
func (t *Tree) AllocSerial() (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nextSerial >= 0xFFFF {
		return 0, ffserr.New("tree.AllocSerial", ffserr.NoMemory)
	}
	t.nextSerial++
	if t.nextSerial == 0 {
		t.nextSerial = RootSerial + 1
	}
	return t.nextSerial, nil
}

// SetHeaderBlock performs the commit-point pointer swap of spec §4.5 step
// 6 for a node's header page group: serial's header now lives at block
// with the given block_ts.
func (t *Tree) SetHeaderBlock(serial uint16, block int, ts uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.files[serial]
	if !ok {
		n, ok = t.dirs[serial]
	}
	if !ok {
		return ffserr.New("tree.SetHeaderBlock", ffserr.NoEntry)
	}
	n.HeaderBlk = block
	n.BlockTS = ts
	return nil
}

// --- data blocks ------------------------------------------------------

// DataBlock returns the physical block carrying (serial, index), if any.
func (t *Tree) DataBlock(serial uint16, index uint32) (*DataBlockEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.data[DataBlockKey{serial, index}]
	return e, ok
}

// SetDataBlock performs the commit-point pointer swap of spec §4.5 step
// 6: the tree entry for (serial, index) now names block.
func (t *Tree) SetDataBlock(serial uint16, index uint32, block int, ts uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := DataBlockKey{serial, index}
	t.data[k] = &DataBlockEntry{Key: k, Block: block, BlockTS: ts}
}

// RemoveDataBlock drops the tree's record of (serial, index), used when
// a file is truncated shorter or deleted.
func (t *Tree) RemoveDataBlock(serial uint16, index uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.data, DataBlockKey{serial, index})
}

// DataBlocksOf returns every data-block entry belonging to serial.
func (t *Tree) DataBlocksOf(serial uint16) []*DataBlockEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*DataBlockEntry
	for k, e := range t.data {
		if k.Serial == serial {
			out = append(out, e)
		}
	}
	return out
}

// --- block category lists ---------------------------------------------

// MarkErased places block on the erased list (spec lifecycle: "A block
// enters the erased list after a successful erase").
func (t *Tree) MarkErased(block int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.erasedElems[block]; ok {
		return
	}
	el := t.erased.PushBack(block)
	t.erasedElems[block] = el
	t.eraseCount[block]++
}

// TakeErased removes and returns the least-erased block on the erased
// list (the flush engine's target-selection policy, spec §4.5 step 1
// leaves the choice open; P7 requires wear to stay spread across the
// whole partition rather than cycling the same few low-numbered
// blocks), breaking ties by lowest physical block number so the choice
// stays deterministic. ok=false if the erased list is empty.
func (t *Tree) TakeErased() (block int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	best := (*list.Element)(nil)
	for el := t.erased.Front(); el != nil; el = el.Next() {
		if best == nil {
			best = el
			continue
		}
		candidate, bestBlock := el.Value.(int), best.Value.(int)
		if t.eraseCount[candidate] < t.eraseCount[bestBlock] ||
			(t.eraseCount[candidate] == t.eraseCount[bestBlock] && candidate < bestBlock) {
			best = el
		}
	}
	if best == nil {
		return 0, false
	}
	t.erased.Remove(best)
	delete(t.erasedElems, best.Value.(int))
	return best.Value.(int), true
}

// ErasedCount reports the current size of the erased list, used to
// enforce the MIN_ERASED floor (spec I3).
func (t *Tree) ErasedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.erased.Len()
}

// MarkBad places block on the bad list permanently (spec P6: "a block
// once marked bad is never selected as an erased target").
func (t *Tree) MarkBad(block int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.erasedElems[block]; ok {
		t.erased.Remove(el)
		delete(t.erasedElems, block)
	}
	t.bad[block] = true
}

// IsBad reports whether block is on the bad list.
func (t *Tree) IsBad(block int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bad[block]
}

// EraseCount returns the observed lifetime erase count for block (best-
// effort, reset to zero on every mount — see SPEC_FULL.md §4.4). Also
// exposed for P7 wear-spread statistics over a run.
func (t *Tree) EraseCount(block int) uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.eraseCount[block]
}

// Counts returns the partition-conservation tuple of spec P1.
func (t *Tree) Counts() (files, dirs, dataBlocks, erasedN, badN int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.files), len(t.dirs), len(t.data), t.erased.Len(), len(t.bad)
}

// Resolve implements the mount-time recovery rule of spec §4.5: given two
// blocks both claiming (serial, index), pick the survivor by circularly-
// newer block_ts, then by valid-page count, then by lowest physical
// block number. Ties handled by the caller passing validPages/physical
// in a consistent order.
func Resolve(aBlock int, aTS uint8, aValid int, bBlock int, bTS uint8, bValid int) (winner, loser int) {
	if spare.Newer(aTS, bTS) {
		return aBlock, bBlock
	}
	if spare.Newer(bTS, aTS) {
		return bBlock, aBlock
	}
	if aValid != bValid {
		if aValid > bValid {
			return aBlock, bBlock
		}
		return bBlock, aBlock
	}
	if aBlock < bBlock {
		return aBlock, bBlock
	}
	return bBlock, aBlock
}
