package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns an opaque identifier like "sec_3f9a...", 12 random bytes hex
// encoded behind the prefix. Section ids use these; the requirement hashId
// is a full UUID and does not come from here.
func NewID(prefix string) string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	encoded := hex.EncodeToString(bytes)
	if prefix == "" {
		return encoded
	}
	return prefix + "_" + encoded
}
