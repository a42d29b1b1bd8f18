// Package flash implements the ECC-aware page I/O wrapper of spec §4.1:
// it sits directly on top of the external driver contract of spec §6 and
// is the only component that touches raw pages/blocks.
package flash

import (
	"github.com/rogerz/uffs/config"
)

// Status mirrors the driver contract's status returns; Go idiom turns
// these into errors, but the nominal status values are kept for the
// rare case a caller wants to branch without an error-kind lookup.
type Status int

const (
	StatusOK Status = iota
	StatusIOError
	StatusECCUnrecoverable
	StatusBadBlock
)

// Driver is the external hardware/simulator collaborator of spec §6.
// UFFS never assumes a concrete transport; this interface is the whole
// contract.
type Driver interface {
	Init() error
	Release() error
	ReadPage(block, page int) (data, spare []byte, err error)
	WritePage(block, page int, data, spare []byte) error
	EraseBlock(block int) error
}

// BadBlockAware is an optional capability: a driver that tracks bad
// blocks itself. Drivers that don't implement it fall back to the
// block-status byte in page 0's spare (spec §6).
type BadBlockAware interface {
	IsBad(block int) (bool, error)
	MarkBad(block int) error
}

// Attrs returns the storage attributes a Driver was configured with, used
// by Device to size buffers without a second out-of-band channel.
type AttrsProvider interface {
	Attrs() config.StorageAttrs
}
