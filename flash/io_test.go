package flash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogerz/uffs/config"
	"github.com/rogerz/uffs/ffserr"
	"github.com/rogerz/uffs/testutil/simflash"
)

func eccAttrs() config.StorageAttrs {
	return config.StorageAttrs{
		TotalBlocks:   4,
		PageDataSize:  512,
		PagesPerBlock: 4,
		ECCOption:     config.ECCSoft,
		LayoutOption:  config.LayoutCore,
	}
}

func TestWritePageThenReadPageRoundTrips(t *testing.T) {
	attrs := eccAttrs()
	cfg := config.Default()
	driver := simflash.New(attrs)
	dev := NewDevice(driver, attrs, cfg)

	want := make([]byte, attrs.PageDataSize)
	for i := range want {
		want[i] = byte(i)
	}
	spare := make([]byte, attrs.SpareSize())
	require.NoError(t, dev.WritePage(1, 0, want, spare))

	got, _, err := dev.ReadPage(1, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadPageCorrectsSingleBitError(t *testing.T) {
	attrs := eccAttrs()
	cfg := config.Default()
	driver := simflash.New(attrs)
	dev := NewDevice(driver, attrs, cfg)

	want := make([]byte, attrs.PageDataSize)
	for i := range want {
		want[i] = byte(i * 7)
	}
	spare := make([]byte, attrs.SpareSize())
	require.NoError(t, dev.WritePage(2, 0, want, spare))

	driver.ArmReadCorruption(2, 0)

	got, _, err := dev.ReadPage(2, 0)
	require.NoError(t, err, "a single flipped bit must be transparently corrected")
	assert.Equal(t, want, got)
}

func TestWriteVerifyFailureMarksBlockBadAndReportsIOError(t *testing.T) {
	attrs := eccAttrs()
	cfg := config.Default()
	cfg.WriteVerify = true
	driver := simflash.New(attrs)
	dev := NewDevice(driver, attrs, cfg)

	data := make([]byte, attrs.PageDataSize)
	spare := make([]byte, attrs.SpareSize())

	driver.ArmReadCorruption(3, 0)

	err := dev.WritePage(3, 0, data, spare)
	require.Error(t, err)
	assert.True(t, ffserr.Is(err, ffserr.IOError))

	bad, err := dev.IsBad(3)
	require.NoError(t, err)
	assert.True(t, bad, "write-verify mismatch must mark the block bad")
}

// fakeDriver is a minimal flash.Driver that does NOT implement
// BadBlockAware, exercising Device's block-status-byte fallback.
type fakeDriver struct {
	data, spare map[[2]int][]byte
}

func newFakeDriver(attrs config.StorageAttrs) *fakeDriver {
	d := &fakeDriver{data: make(map[[2]int][]byte), spare: make(map[[2]int][]byte)}
	for b := 0; b < attrs.TotalBlocks; b++ {
		for p := 0; p < attrs.PagesPerBlock; p++ {
			data := make([]byte, attrs.PageDataSize)
			spare := make([]byte, attrs.SpareSize())
			for i := range data {
				data[i] = 0xFF
			}
			for i := range spare {
				spare[i] = 0xFF
			}
			d.data[[2]int{b, p}] = data
			d.spare[[2]int{b, p}] = spare
		}
	}
	return d
}

func (d *fakeDriver) Init() error    { return nil }
func (d *fakeDriver) Release() error { return nil }

func (d *fakeDriver) ReadPage(block, page int) ([]byte, []byte, error) {
	key := [2]int{block, page}
	return append([]byte(nil), d.data[key]...), append([]byte(nil), d.spare[key]...), nil
}

func (d *fakeDriver) WritePage(block, page int, data, spare []byte) error {
	key := [2]int{block, page}
	d.data[key] = append([]byte(nil), data...)
	d.spare[key] = append([]byte(nil), spare...)
	return nil
}

func (d *fakeDriver) EraseBlock(block int) error { return nil }

func TestIsBadMarkBadFallsBackToBlockStatusByte(t *testing.T) {
	attrs := config.StorageAttrs{TotalBlocks: 2, PageDataSize: 512, PagesPerBlock: 2, BlockStatusOffs: 5}
	cfg := config.Default()
	driver := newFakeDriver(attrs)
	dev := NewDevice(driver, attrs, cfg)

	bad, err := dev.IsBad(0)
	require.NoError(t, err)
	assert.False(t, bad)

	require.NoError(t, dev.MarkBad(0))

	bad, err = dev.IsBad(0)
	require.NoError(t, err)
	assert.True(t, bad)
}

func TestReadPageTwoBitErrorIsUnrecoverable(t *testing.T) {
	attrs := eccAttrs()
	cfg := config.Default()
	driver := newFakeDriver(attrs)
	dev := NewDevice(driver, attrs, cfg)

	data := make([]byte, attrs.PageDataSize)
	spare := make([]byte, attrs.SpareSize())
	require.NoError(t, dev.WritePage(0, 0, data, spare))

	raw, _, err := driver.ReadPage(0, 0)
	require.NoError(t, err)
	raw[0] ^= 0x01
	raw[1] ^= 0x01
	driver.data[[2]int{0, 0}] = raw

	_, _, err = dev.ReadPage(0, 0)
	require.Error(t, err)
	assert.True(t, ffserr.Is(err, ffserr.ECCUnrecoverable))
}
