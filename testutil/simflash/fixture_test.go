package simflash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttrsFromINIAppliesOverridesAndDefaults(t *testing.T) {
	attrs, err := AttrsFromINI([]byte(`
[storage]
total_blocks = 16
page_data_size = 2048
`))
	require.NoError(t, err)
	assert.Equal(t, 16, attrs.TotalBlocks)
	assert.Equal(t, 2048, attrs.PageDataSize)
	assert.Equal(t, 4, attrs.PagesPerBlock, "unspecified keys fall back to their default")
}

func TestNewFromINIBuildsAnErasedDriver(t *testing.T) {
	driver, attrs, err := NewFromINI([]byte(`
[storage]
total_blocks = 4
page_data_size = 512
pages_per_block = 2
`))
	require.NoError(t, err)
	require.Equal(t, 4, attrs.TotalBlocks)

	data, spare, err := driver.ReadPage(0, 0)
	require.NoError(t, err)
	assert.Len(t, data, 512)
	assert.Len(t, spare, attrs.SpareSize())
	for _, b := range data {
		assert.Equal(t, byte(erasedFill), b)
	}
}

func TestAttrsFromINIRejectsMalformedDocument(t *testing.T) {
	_, err := AttrsFromINI([]byte("[storage\ntotal_blocks = 4\n")) // unclosed section header
	assert.Error(t, err)
}
