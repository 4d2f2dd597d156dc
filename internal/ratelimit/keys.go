package ratelimit

import (
	"strconv"
	"strings"
)

const keyPrefix = "rl"

// BucketIndex is the bucket containing nowMs for the given window.
func BucketIndex(nowMs, windowMs int64) int64 {
	return nowMs / windowMs
}

// BucketKey is the store key for one bucket of a scope:
// rl:{route}:{identifier}:{bucket}.
func BucketKey(route, identifier string, bucket int64) string {
	var b strings.Builder
	b.Grow(len(keyPrefix) + len(route) + len(identifier) + 24)
	b.WriteString(keyPrefix)
	b.WriteByte(':')
	b.WriteString(route)
	b.WriteByte(':')
	b.WriteString(identifier)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(bucket, 10))
	return b.String()
}
