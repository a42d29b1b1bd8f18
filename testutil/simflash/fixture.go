package simflash

import (
	"gopkg.in/ini.v1"

	"github.com/rogerz/uffs/config"
)

// AttrsFromINI parses a [storage] section into a config.StorageAttrs, the
// same section-then-key.MustXxx(default) shape server/conf/config.go uses
// to pull mysqld tunables out of an ini.File: a fixture only needs to
// state what it overrides, everything else falls back to a usable
// default so small ad-hoc test documents stay short.
func AttrsFromINI(data []byte) (config.StorageAttrs, error) {
	f, err := ini.Load(data)
	if err != nil {
		return config.StorageAttrs{}, err
	}
	sec := f.Section("storage")
	return config.StorageAttrs{
		TotalBlocks:     sec.Key("total_blocks").MustInt(8),
		PageDataSize:    sec.Key("page_data_size").MustInt(512),
		PagesPerBlock:   sec.Key("pages_per_block").MustInt(4),
		BlockStatusOffs: sec.Key("block_status_offs").MustInt(0),
	}, nil
}

// NewFromINI is the AttrsFromINI-then-New convenience most test setups
// want: a ready driver plus the attrs that built it.
func NewFromINI(data []byte) (*Driver, config.StorageAttrs, error) {
	attrs, err := AttrsFromINI(data)
	if err != nil {
		return nil, config.StorageAttrs{}, err
	}
	return New(attrs), attrs, nil
}
