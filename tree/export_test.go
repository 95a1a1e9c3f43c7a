package tree

// CacheStats returns the hits and misses of the recently found pages cache.
func (t *Tree) CacheStats() (hits, misses int) {
	return t.cache.hits, t.cache.misses
}
