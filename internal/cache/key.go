package cache

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/google/uuid"
)

// Key derives the content-addressed cache key for a segment/voice pair:
// lowercase hex MD5 of the UTF-8 text, a colon, then the canonical hyphenated
// voice id.
//
// The format is compatibility-critical — existing caches are keyed by it, so
// it must never change. MD5 is used purely as a stable fixed-length content
// identifier; collision resistance is irrelevant for cooperative inputs.
func Key(text string, voiceID uuid.UUID) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:]) + ":" + voiceID.String()
}
