package cache

import (
	"fmt"
	"strings"
	"time"
)

// Cache holds computed read views of market sessions. Keys come from
// VersionKey, so a view is only ever replaced by a view of a later version.
type Cache interface {
	// Get returns the view stored under key.
	Get(key string) (interface{}, bool)

	// Set stores a view. A ttl of zero keeps it until evicted.
	Set(key string, value interface{}, ttl time.Duration) bool

	// Delete drops a view whose version was reused, as when a session closes
	// without a version bump.
	Delete(key string)

	Close()
}

// VersionKey builds a key for a view of marketID at one version. Committed
// versions never change, so entries under such a key never go stale.
func VersionKey(kind, marketID string, version uint64, extra ...string) string {
	key := fmt.Sprintf("%s:%s@%d", kind, marketID, version)
	for _, e := range extra {
		key += ":" + e
	}
	return key
}

// kindOf returns the view kind a VersionKey was built with.
func kindOf(key string) string {
	kind, _, found := strings.Cut(key, ":")
	if !found || kind == "" {
		return "other"
	}
	return kind
}
