package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DedupKey derives the content identity of a feed item from its canonical
// fields. Fields are joined with "||" and hashed; empty fields stay empty so
// positions are stable. The published value is the raw string as the feed
// provided it, not a parsed timestamp.
func DedupKey(sourceKey, guid, url, title, published string) string {
	basis := strings.Join([]string{sourceKey, guid, url, title, published}, "||")
	sum := sha256.Sum256([]byte(basis))
	return hex.EncodeToString(sum[:])
}

// ItemUID builds the external item identifier from a source key and a dedup
// key. It is unique because the dedup key is.
func ItemUID(sourceKey, dedupKey string) string {
	return fmt.Sprintf("%s:sha256:%s", sourceKey, dedupKey)
}
