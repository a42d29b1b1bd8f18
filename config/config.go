// Package config plumbs the runtime policy knobs of the uffs specification
// through one record, as directed by the "conditional features... explicit
// configuration options" design note: write-verify, bad-block verification
// on format, modify-time tracking and flush-after-write are all fields here
// rather than compile-time switches.
package config

import (
	"github.com/pelletier/go-toml"
)

// ECCMode selects how page ECC is computed and checked.
type ECCMode int

const (
	ECCNone ECCMode = iota
	ECCSoft
	ECCHardware
)

// LayoutMode selects who owns the spare-area byte layout.
type LayoutMode int

const (
	LayoutCore LayoutMode = iota
	LayoutDriver
)

// Defaults recovered from the original uffs_config.h (see DESIGN.md).
const (
	DefaultMaxCachedBlockInfo    = 10
	DefaultMaxPageBuffers        = 10
	DefaultCloneBuffersThreshold = 2
	DefaultMaxDirtyPagesInBlock  = 7
	DefaultMaxDirtyBufGroups     = 3
	DefaultMinErasedBlock        = 2
	DefaultMaxPageDataSize       = 2048
)

// Config is the single record every conditional feature and tunable budget
// is read from.
type Config struct {
	// Policy toggles.
	WriteVerify           bool `toml:"write_verify"`
	BadBlockVerifyOnFormat bool `toml:"bad_block_verify_on_format"`
	ChangeModifyTime      bool `toml:"change_modify_time"`
	FlushAfterWrite       bool `toml:"flush_after_write"`

	// ECC / layout.
	ECCOption    ECCMode    `toml:"ecc_option"`
	LayoutOption LayoutMode `toml:"layout_option"`

	// Budgets (see spec §4.2-§4.3 and §9 for why each is bounded).
	MaxCachedBlockInfo    int `toml:"max_cached_block_info"`
	MaxPageBuffers        int `toml:"max_page_buffers"`
	CloneBuffersThreshold int `toml:"clone_buffers_threshold"`
	MaxDirtyPagesInBlock  int `toml:"max_dirty_pages_in_block"`
	MaxDirtyBufGroups     int `toml:"max_dirty_buf_groups"`
	MinErasedBlock        int `toml:"min_erased_block"`

	// Orphan policy resolution (see SPEC_FULL.md §4.6 Open Question).
	OrphanPolicy OrphanPolicy `toml:"orphan_policy"`

	LogLevel string `toml:"log_level"`
}

// OrphanPolicy controls what mount does with nodes whose parent directory
// no longer exists.
type OrphanPolicy int

const (
	OrphanDelete OrphanPolicy = iota
	OrphanReparentToRoot
)

// Default returns the configuration UFFS ships with: write-verify and
// bad-block-verify-on-format on (the original project recommends both for
// NAND), modify-time tracking off (it is the first thing disabled to cut
// write amplification on embedded targets), flush-after-write off.
func Default() *Config {
	return &Config{
		WriteVerify:            true,
		BadBlockVerifyOnFormat: true,
		ChangeModifyTime:       false,
		FlushAfterWrite:        false,
		ECCOption:              ECCSoft,
		LayoutOption:           LayoutCore,
		MaxCachedBlockInfo:     DefaultMaxCachedBlockInfo,
		MaxPageBuffers:         DefaultMaxPageBuffers,
		CloneBuffersThreshold:  DefaultCloneBuffersThreshold,
		MaxDirtyPagesInBlock:   DefaultMaxDirtyPagesInBlock,
		MaxDirtyBufGroups:      DefaultMaxDirtyBufGroups,
		MinErasedBlock:         DefaultMinErasedBlock,
		OrphanPolicy:           OrphanDelete,
		LogLevel:               "info",
	}
}

// Validate enforces the bounds spec §4.3 places on the dirty-group budget:
// 2 <= MaxDirtyPagesInBlock <= MaxPageBuffers - CloneBuffersThreshold - 1,
// and CloneBuffersThreshold >= 2 when write-verify is enabled.
func (c *Config) Validate() error {
	if c.MaxDirtyPagesInBlock < 2 {
		return errInvalid("max_dirty_pages_in_block must be >= 2")
	}
	if c.MaxDirtyPagesInBlock > c.MaxPageBuffers-c.CloneBuffersThreshold-1 {
		return errInvalid("max_dirty_pages_in_block exceeds max_page_buffers - clone_buffers_threshold - 1")
	}
	if c.WriteVerify && c.CloneBuffersThreshold < 2 {
		return errInvalid("clone_buffers_threshold must be >= 2 when write_verify is enabled")
	}
	if c.MinErasedBlock < 1 {
		return errInvalid("min_erased_block must be >= 1")
	}
	return nil
}

type invalidConfigError string

func (e invalidConfigError) Error() string { return string(e) }

func errInvalid(msg string) error { return invalidConfigError(msg) }

// Load decodes a TOML document into a Config seeded with Default() values,
// so an on-disk file only needs to mention the fields it overrides.
func Load(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save encodes a Config as TOML, the inverse of Load.
func Save(cfg *Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

// StorageAttrs are the read-only, mount-time storage attributes of spec §6:
// supplied by the embedder (from the driver / mount table), never by UFFS
// itself.
type StorageAttrs struct {
	TotalBlocks     int
	PageDataSize    int
	PagesPerBlock   int
	BlockStatusOffs int
	ECCOption       ECCMode
	LayoutOption    LayoutMode
}

// SpareSize implements spec §3's "(page_size/256)*8 bytes, capped at 64".
func (a StorageAttrs) SpareSize() int {
	n := (a.PageDataSize / 256) * 8
	if n > 64 {
		n = 64
	}
	return n
}
