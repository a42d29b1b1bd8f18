package flash

import (
	"github.com/pkg/errors"

	"github.com/rogerz/uffs/config"
	"github.com/rogerz/uffs/ffserr"
	"github.com/rogerz/uffs/internal/hamming"
	"github.com/rogerz/uffs/logger"
)

// BlockGood is the value of the block-status byte (spec §6) for a good
// block; anything else means factory-bad.
const BlockGood = 0xFF

// Device wraps a Driver with ECC, write-verify and bad-block handling, the
// whole of spec §4.1. Every uffs package above blockcache talks to flash
// only through a *Device.
type Device struct {
	driver Driver
	attrs  config.StorageAttrs
	cfg    *config.Config
}

// NewDevice constructs a Device over driver with the given storage
// attributes and runtime config.
func NewDevice(driver Driver, attrs config.StorageAttrs, cfg *config.Config) *Device {
	return &Device{driver: driver, attrs: attrs, cfg: cfg}
}

func (d *Device) Attrs() config.StorageAttrs { return d.attrs }

// ReadPage reads page data+spare, applying ECC per cfg.ECCOption. A single-
// bit data error is corrected transparently; anything beyond that surfaces
// ffserr.ECCUnrecoverable.
func (d *Device) ReadPage(block, page int) (data, spare []byte, err error) {
	data, spare, err = d.driver.ReadPage(block, page)
	if err != nil {
		return nil, nil, ffserr.Wrap("flash.ReadPage", ffserr.IOError, errors.Wrapf(err, "block %d page %d", block, page))
	}
	if d.attrs.ECCOption == config.ECCSoft {
		if err := d.correctECC(data, spare); err != nil {
			return nil, nil, ffserr.Wrap("flash.ReadPage", ffserr.ECCUnrecoverable, err)
		}
	}
	return data, spare, nil
}

// ReadRaw reads page data+spare with no ECC correction applied, for
// callers that need to inspect the physical bytes directly (mount's
// erased-pattern verification, bad-block fallback probing).
func (d *Device) ReadRaw(block, page int) (data, spare []byte, err error) {
	data, spare, err = d.driver.ReadPage(block, page)
	if err != nil {
		return nil, nil, ffserr.Wrap("flash.ReadRaw", ffserr.IOError, errors.Wrapf(err, "block %d page %d", block, page))
	}
	return data, spare, nil
}

// eccRegion carves out the ECC parity bytes for each SegmentSize-byte
// chunk of data from the tail of the spare area, leaving the leading
// bytes for the page tag (layout_option == core).
func (d *Device) eccRegion(spare []byte) []byte {
	segments := (d.attrs.PageDataSize + hamming.SegmentSize - 1) / hamming.SegmentSize
	need := segments * hamming.ECCBytesPerSegment
	spareSize := d.attrs.SpareSize()
	if need > spareSize {
		need = spareSize
	}
	return spare[spareSize-need:]
}

func (d *Device) correctECC(data, spare []byte) error {
	ecc := d.eccRegion(spare)
	segments := (len(data) + hamming.SegmentSize - 1) / hamming.SegmentSize
	for i := 0; i < segments; i++ {
		start := i * hamming.SegmentSize
		end := start + hamming.SegmentSize
		if end > len(data) {
			end = len(data)
		}
		eccStart := i * hamming.ECCBytesPerSegment
		if eccStart+hamming.ECCBytesPerSegment > len(ecc) {
			break
		}
		var parity [hamming.ECCBytesPerSegment]byte
		copy(parity[:], ecc[eccStart:eccStart+hamming.ECCBytesPerSegment])
		if _, err := hamming.Correct(data[start:end], parity); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) computeECC(data, spare []byte) {
	ecc := d.eccRegion(spare)
	segments := (len(data) + hamming.SegmentSize - 1) / hamming.SegmentSize
	for i := 0; i < segments; i++ {
		start := i * hamming.SegmentSize
		end := start + hamming.SegmentSize
		if end > len(data) {
			end = len(data)
		}
		parity := hamming.Compute(data[start:end])
		eccStart := i * hamming.ECCBytesPerSegment
		if eccStart+hamming.ECCBytesPerSegment > len(ecc) {
			break
		}
		copy(ecc[eccStart:eccStart+hamming.ECCBytesPerSegment], parity[:])
	}
}

// WritePage programs a page, computing ECC first when enabled, and
// verifying by read-back when cfg.WriteVerify is set. A verify failure
// marks the block bad and returns ffserr.IOError so the flush engine can
// re-drive to a different target (spec §4.1, §4.5 step 5).
func (d *Device) WritePage(block, page int, data, spare []byte) error {
	if d.attrs.ECCOption == config.ECCSoft && d.attrs.LayoutOption == config.LayoutCore {
		d.computeECC(data, spare)
	}
	if err := d.driver.WritePage(block, page, data, spare); err != nil {
		return ffserr.Wrap("flash.WritePage", ffserr.IOError, errors.Wrapf(err, "block %d page %d", block, page))
	}
	if d.cfg.WriteVerify {
		rdata, rspare, err := d.driver.ReadPage(block, page)
		if err != nil || !bytesEqual(rdata, data) || !bytesEqual(rspare, spare) {
			logger.Warnf("write-verify failed on block %d page %d, marking bad", block, page)
			if berr := d.MarkBad(block); berr != nil {
				logger.Errorf("failed to mark block %d bad after verify failure: %v", block, berr)
			}
			return ffserr.New("flash.WritePage", ffserr.IOError)
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EraseBlock erases a block, surfacing ffserr.IOError on driver failure.
func (d *Device) EraseBlock(block int) error {
	if err := d.driver.EraseBlock(block); err != nil {
		return ffserr.Wrap("flash.EraseBlock", ffserr.IOError, errors.Wrapf(err, "block %d", block))
	}
	return nil
}

// IsBad reports whether block is marked bad, using the driver's own
// tracking when available, else the block-status byte of spec §6.
func (d *Device) IsBad(block int) (bool, error) {
	if bb, ok := d.driver.(BadBlockAware); ok {
		return bb.IsBad(block)
	}
	_, spare, err := d.driver.ReadPage(block, 0)
	if err != nil {
		// Page 0 unreadable: treated by mount as "erased candidate", not bad,
		// per spec §4.6. Report not-bad here; mount does the deeper check.
		return false, nil
	}
	off := d.attrs.BlockStatusOffs
	if off < 0 || off >= len(spare) {
		return false, ffserr.New("flash.IsBad", ffserr.InvalidArg)
	}
	return spare[off] != BlockGood, nil
}

// MarkBad marks block bad via the driver when supported, else by writing
// a non-BlockGood value to the block-status byte of page 0's spare.
func (d *Device) MarkBad(block int) error {
	if bb, ok := d.driver.(BadBlockAware); ok {
		return bb.MarkBad(block)
	}
	data := make([]byte, d.attrs.PageDataSize)
	spare := make([]byte, d.attrs.SpareSize())
	off := d.attrs.BlockStatusOffs
	if off < 0 || off >= len(spare) {
		return ffserr.New("flash.MarkBad", ffserr.InvalidArg)
	}
	spare[off] = 0x00
	return d.driver.WritePage(block, 0, data, spare)
}
