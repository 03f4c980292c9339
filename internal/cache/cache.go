package cache

import (
	"crypto/sha256"
	"fmt"
	"time"

	"BytesmeSearch/internal/backend"
)

// CachedProduct represents a cached product detail response
type CachedProduct struct {
	Detail    backend.ProductDetailResponse
	Timestamp time.Time
}

// Fresh reports whether the entry is still usable; a non-positive ttl never expires
func (c CachedProduct) Fresh(now time.Time, ttl time.Duration) bool {
	return ttl <= 0 || now.Sub(c.Timestamp) < ttl
}

// GenerateCacheKey generates a cache key from the request parts
func GenerateCacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
