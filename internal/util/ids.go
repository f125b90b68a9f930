package util

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string.
func NewID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// PrefixedID returns "<prefix>_<ulid>", e.g. "rec_01HX...".
func PrefixedID(prefix string) string {
	return prefix + "_" + strings.ToLower(NewID())
}

// IdempotencyKey joins parts into a stable key for provider calls.
func IdempotencyKey(parts ...string) string {
	return strings.Join(parts, "-")
}
