package index

import (
	"time"

	"github.com/bitfsorg/libblocks-go/block"
)

// Entry is one row of the metadata index.
type Entry struct {
	Hash           block.Hash
	Size           int64 // plaintext bytes
	Tier           block.Tier
	CreatedAt      time.Time
	LastAccessedAt time.Time
	Meta           block.Meta
}

// TierUsage is the aggregate for a single tier.
type TierUsage struct {
	Bytes  int64 `json:"bytes"`
	Blocks int64 `json:"blocks"`
}

// Usage is the aggregate over all entries.
type Usage struct {
	TotalBytes  int64                    `json:"total_bytes"`
	TotalBlocks int64                    `json:"total_blocks"`
	ByTier      map[block.Tier]TierUsage `json:"by_tier"`
}
