package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateCacheKey(t *testing.T) {
	o := NewObservable("ipv4", "1.2.3.4")
	amt := cachableModuleType("hasher")

	key := GenerateCacheKey(o, amt)
	assert.NotEmpty(t, key)
	assert.Equal(t, key, GenerateCacheKey(o, amt))

	// identity of the observable matters
	assert.NotEqual(t, key, GenerateCacheKey(NewObservable("ipv4", "4.3.2.1"), amt))
	assert.NotEqual(t, key, GenerateCacheKey(NewObservable("fqdn", "1.2.3.4"), amt))

	// so does the observation time
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	timed := NewObservable("ipv4", "1.2.3.4").WithTime(when)
	assert.NotEqual(t, key, GenerateCacheKey(timed, amt))
	assert.Equal(t, GenerateCacheKey(timed, amt), GenerateCacheKey(timed, amt))
}

func TestGenerateCacheKeyModuleIdentity(t *testing.T) {
	o := NewObservable("ipv4", "1.2.3.4")

	base := cachableModuleType("hasher")
	key := GenerateCacheKey(o, base)

	renamed := cachableModuleType("other")
	assert.NotEqual(t, key, GenerateCacheKey(o, renamed))

	bumped := cachableModuleType("hasher")
	bumped.Version = "2.0.0"
	assert.NotEqual(t, key, GenerateCacheKey(o, bumped))
}

func TestGenerateCacheKeyAdditionalKeysOrderSignificant(t *testing.T) {
	o := NewObservable("ipv4", "1.2.3.4")

	ab := cachableModuleType("hasher")
	ab.AdditionalCacheKeys = []string{"a", "b"}

	ba := cachableModuleType("hasher")
	ba.AdditionalCacheKeys = []string{"b", "a"}

	assert.NotEqual(t, GenerateCacheKey(o, ab), GenerateCacheKey(o, ba))
}

func TestGenerateCacheKeyExtendedVersionIsASet(t *testing.T) {
	o := NewObservable("ipv4", "1.2.3.4")

	ab := cachableModuleType("hasher")
	ab.ExtendedVersion = []string{"sigs:v1", "yara:v2"}

	ba := cachableModuleType("hasher")
	ba.ExtendedVersion = []string{"yara:v2", "sigs:v1"}

	assert.Equal(t, GenerateCacheKey(o, ab), GenerateCacheKey(o, ba))
}

func TestGenerateCacheKeyAbsent(t *testing.T) {
	o := NewObservable("ipv4", "1.2.3.4")

	// no cache ttl means no caching at all
	assert.Empty(t, GenerateCacheKey(o, NewModuleType("uncached")))
	assert.Empty(t, GenerateCacheKey(nil, cachableModuleType("hasher")))
	assert.Empty(t, GenerateCacheKey(o, nil))
}
