// Package sha256 names page snapshots by the SHA-256 digest of their URL.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
)

// Hasher implements crawler.Hasher. A positive shard width prefixes the digest
// with a directory made of its leading characters.
type Hasher struct {
	shard int
}

var _ crawler.Hasher = (*Hasher)(nil)

// New returns a hasher producing bare hex digests.
func New() *Hasher {
	return &Hasher{}
}

// NewSharded returns a hasher producing "<prefix>/<digest>" names.
func NewSharded(width int) *Hasher {
	if width < 0 || width > sha256.Size*2 {
		width = 0
	}
	return &Hasher{shard: width}
}

// Hash returns the hex digest of data, sharded when configured.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.shard == 0 {
		return digest, nil
	}
	return digest[:h.shard] + "/" + digest, nil
}
