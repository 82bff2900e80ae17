package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache defines the interface for caching operations
type Cache interface {
	// Get retrieves a value from the cache
	// Returns the value and a boolean indicating whether the key was found
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set adds a value to the cache with the specified expiration
	// If expiration is 0, the item never expires (but may be evicted)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration)

	// Delete removes a key from the cache
	Delete(ctx context.Context, key string)

	// DeleteByPrefix removes all keys with the given prefix
	DeleteByPrefix(ctx context.Context, prefix string)

	// Flush removes all items from the cache
	Flush(ctx context.Context)
}

// Predefined cache key prefixes for different entity types
const (
	PrefixUser              = "user:v1:"
	PrefixSubscription      = "subscription:v1:"
	PrefixSubscriptionPrice = "subscription_price:v1:"
	PrefixTokenPrice        = "token_price:v1:"
)

// ExpiryDefaultInMemory is the expiration used by repositories that cache
// read-mostly rows
const ExpiryDefaultInMemory = 30 * time.Minute

// GenerateKey creates a cache key from a prefix and a set of parameters
// It joins all parameters with a colon and appends them to the prefix
func GenerateKey(prefix string, params ...interface{}) string {
	parts := make([]string, len(params)+1)
	parts[0] = prefix

	for i, param := range params {
		parts[i+1] = fmt.Sprintf("%v", param)
	}

	return strings.Join(parts, ":")
}
