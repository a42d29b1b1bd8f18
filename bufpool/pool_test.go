package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogerz/uffs/config"
)

func testAttrs() config.StorageAttrs {
	return config.StorageAttrs{TotalBlocks: 32, PageDataSize: 64, PagesPerBlock: 8}
}

func TestAcquireReusesSameKey(t *testing.T) {
	p := New(config.Default(), testAttrs(), nil)
	b1, err := p.Acquire(1, 0, 0, false)
	require.NoError(t, err)
	b2, err := p.Acquire(1, 0, 0, false)
	require.NoError(t, err)
	assert.Same(t, b1, b2)
	assert.Equal(t, 2, b1.RefCount)
}

func TestAcquireExhaustsCloneReserve(t *testing.T) {
	cfg := config.Default()
	cfg.MaxPageBuffers = 3
	cfg.CloneBuffersThreshold = 2

	p := New(cfg, testAttrs(), nil)

	_, err := p.Acquire(1, 0, 0, false)
	require.NoError(t, err)

	_, err = p.Acquire(2, 0, 0, false)
	require.Error(t, err)
}

func TestMarkDirtyFlushesAtCap(t *testing.T) {
	cfg := config.Default()
	cfg.MaxDirtyPagesInBlock = 2
	flushed := 0
	var flushedSerial uint16

	p := New(cfg, testAttrs(), func(serial uint16) error {
		flushed++
		flushedSerial = serial
		for _, b := range p.Group(serial) {
			p.MarkClean(b)
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		b, err := p.Acquire(5, 0, uint8(i), false)
		require.NoError(t, err)
		require.NoError(t, p.MarkDirty(b))
	}

	assert.Equal(t, 1, flushed)
	assert.Equal(t, uint16(5), flushedSerial)
}

func TestMarkDirtyEvictsOldestGroupOnFourth(t *testing.T) {
	cfg := config.Default()
	cfg.MaxDirtyBufGroups = 3
	var flushedOrder []uint16

	p := New(cfg, testAttrs(), func(serial uint16) error {
		flushedOrder = append(flushedOrder, serial)
		for _, b := range p.Group(serial) {
			p.MarkClean(b)
		}
		return nil
	})

	for _, serial := range []uint16{1, 2, 3} {
		b, err := p.Acquire(serial, 0, 0, false)
		require.NoError(t, err)
		require.NoError(t, p.MarkDirty(b))
	}
	b, err := p.Acquire(4, 0, 0, false)
	require.NoError(t, err)
	require.NoError(t, p.MarkDirty(b))

	require.Len(t, flushedOrder, 1)
	assert.Equal(t, uint16(1), flushedOrder[0], "least-recently-touched group evicted first")
}

func TestGroupInfoTracksLogicalIndexAndHeaderFlag(t *testing.T) {
	p := New(config.Default(), testAttrs(), nil)
	b, err := p.Acquire(9, 3, 1, true)
	require.NoError(t, err)
	require.NoError(t, p.MarkDirty(b))

	idx, isHeader, ok := p.GroupInfo(9)
	require.True(t, ok)
	assert.Equal(t, uint32(3), idx)
	assert.True(t, isHeader)
}

func TestReleaseReclaimsCleanBuffer(t *testing.T) {
	p := New(config.Default(), testAttrs(), nil)
	b, err := p.Acquire(1, 0, 0, false)
	require.NoError(t, err)
	p.Release(b)

	assert.Nil(t, p.Find(1, 0, 0))
}
