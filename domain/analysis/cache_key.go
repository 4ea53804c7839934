package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// GenerateCacheKey derives the deterministic fingerprint used to cache and
// deduplicate analysis of one observable by one module type. The key covers
// the observable identity (type, value, time) and the module identity (name,
// version, additional cache keys in declaration order, extended version as an
// unordered set). Returns "" when the module type does not cache.
func GenerateCacheKey(o *Observable, t *ModuleType) string {
	if o == nil || t == nil || t.CacheTTL == nil {
		return ""
	}

	var observableTime string
	if o.Time != nil {
		observableTime = o.Time.UTC().Format(time.RFC3339Nano)
	}

	extended := append([]string(nil), t.ExtendedVersion...)
	sort.Strings(extended)

	parts := []string{
		o.Type,
		o.Value,
		observableTime,
		t.Name,
		t.Version,
		strings.Join(t.AdditionalCacheKeys, ","),
		strings.Join(extended, ","),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
