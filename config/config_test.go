package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsTooSmallDirtyPagesCap(t *testing.T) {
	cfg := Default()
	cfg.MaxDirtyPagesInBlock = 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDirtyPagesExceedingBufferBudget(t *testing.T) {
	cfg := Default()
	cfg.MaxPageBuffers = 5
	cfg.CloneBuffersThreshold = 2
	cfg.MaxDirtyPagesInBlock = 3 // needs <= 5-2-1 == 2
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresTwoCloneBuffersWhenWriteVerifyEnabled(t *testing.T) {
	cfg := Default()
	cfg.WriteVerify = true
	cfg.CloneBuffersThreshold = 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroMinErasedBlock(t *testing.T) {
	cfg := Default()
	cfg.MinErasedBlock = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.FlushAfterWrite = true
	cfg.MaxDirtyPagesInBlock = 5

	data, err := Save(cfg)
	require.NoError(t, err)

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFillsUnspecifiedFieldsFromDefault(t *testing.T) {
	loaded, err := Load([]byte(`flush_after_write = true`))
	require.NoError(t, err)
	assert.True(t, loaded.FlushAfterWrite)
	assert.Equal(t, DefaultMaxPageBuffers, loaded.MaxPageBuffers)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	_, err := Load([]byte(`max_dirty_pages_in_block = 1`))
	assert.Error(t, err)
}

func TestSpareSizeScalesWithPageSizeAndCapsAt64(t *testing.T) {
	assert.Equal(t, 0, StorageAttrs{PageDataSize: 64}.SpareSize())
	assert.Equal(t, 16, StorageAttrs{PageDataSize: 512}.SpareSize())
	assert.Equal(t, 64, StorageAttrs{PageDataSize: 2048}.SpareSize())
	assert.Equal(t, 64, StorageAttrs{PageDataSize: 8192}.SpareSize(), "spare size is capped at 64 bytes")
}
