// Package simflash is an in-memory flash.Driver test double used by every
// test in this module, grounded in zchee-go-qcow2's BlockBackend: a
// block-addressed backing store with injectable faults, the same shape
// as a file-backed block-image driver but held in memory for test speed.
package simflash

import (
	"github.com/rogerz/uffs/config"
)

const erasedFill = 0xFF // NAND erased pattern

// Driver is an in-memory simulated flash device.
type Driver struct {
	attrs config.StorageAttrs

	pages [][]pageSlot // [block][page]
	bad   map[int]bool

	// Fault injection, consulted from WritePage/ReadPage/EraseBlock.
	CorruptOnRead map[blockPage]bool
	writesLeft    int
	writesArmed   bool
	failBlocks    map[int]bool
}

type pageSlot struct {
	data, spare []byte
	written     bool
}

type blockPage struct{ block, page int }

// New allocates a simulated device of attrs.TotalBlocks blocks ×
// attrs.PagesPerBlock pages, all blocks erased.
func New(attrs config.StorageAttrs) *Driver {
	d := &Driver{
		attrs:         attrs,
		pages:         make([][]pageSlot, attrs.TotalBlocks),
		bad:           make(map[int]bool),
		CorruptOnRead: make(map[blockPage]bool),
		failBlocks:    make(map[int]bool),
	}
	for b := range d.pages {
		d.pages[b] = make([]pageSlot, attrs.PagesPerBlock)
		d.eraseBlockMem(b)
	}
	return d
}

func (d *Driver) eraseBlockMem(block int) {
	for p := range d.pages[block] {
		data := make([]byte, d.attrs.PageDataSize)
		spare := make([]byte, d.attrs.SpareSize())
		for i := range data {
			data[i] = erasedFill
		}
		for i := range spare {
			spare[i] = erasedFill
		}
		d.pages[block][p] = pageSlot{data: data, spare: spare}
	}
}

func (d *Driver) Init() error    { return nil }
func (d *Driver) Release() error { return nil }

func (d *Driver) ReadPage(block, page int) (data, spare []byte, err error) {
	slot := d.pages[block][page]
	out := append([]byte(nil), slot.data...)
	outSpare := append([]byte(nil), slot.spare...)
	if d.CorruptOnRead[blockPage{block, page}] {
		out[0] ^= 0x01 // flip a single bit: recoverable by soft ECC
		delete(d.CorruptOnRead, blockPage{block, page})
	}
	return out, outSpare, nil
}

func (d *Driver) WritePage(block, page int, data, spare []byte) error {
	if d.failBlocks[block] {
		return errInjected
	}
	if d.writesArmed {
		d.writesLeft--
		if d.writesLeft <= 0 {
			return errInjected
		}
	}
	cp := func(b []byte) []byte { c := make([]byte, len(b)); copy(c, b); return c }
	d.pages[block][page] = pageSlot{data: cp(data), spare: cp(spare), written: true}
	return nil
}

func (d *Driver) EraseBlock(block int) error {
	if d.failBlocks[block] {
		return errInjected
	}
	d.eraseBlockMem(block)
	return nil
}

func (d *Driver) IsBad(block int) (bool, error) { return d.bad[block], nil }
func (d *Driver) MarkBad(block int) error       { d.bad[block] = true; return nil }

// ArmWriteFailure causes the Nth subsequent WritePage call, and every call
// after it until Disarm, to fail, simulating a power loss mid copy-forward
// (spec §8 scenario 5).
func (d *Driver) ArmWriteFailure(afterN int) {
	d.writesArmed = true
	d.writesLeft = afterN
}

// Disarm clears any pending write-failure injection.
func (d *Driver) Disarm() { d.writesArmed = false }

// ArmReadCorruption flips one bit of the next read of (block, page),
// recoverable by the soft ECC option, the bit error of spec §4.1.
func (d *Driver) ArmReadCorruption(block, page int) {
	d.CorruptOnRead[blockPage{block, page}] = true
}

// ArmBlockFailure makes every future WritePage to block fail, simulating
// a physical cell that has gone bad independent of any write-count
// budget (spec §4.5 step 5's "the chosen target itself turns out bad").
func (d *Driver) ArmBlockFailure(block int) {
	d.failBlocks[block] = true
}

type simError string

func (e simError) Error() string { return string(e) }

const errInjected = simError("simflash: injected write failure")
