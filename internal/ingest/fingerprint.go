package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/models"
)

// contentPrefixLen bounds how much of the body participates in the
// fingerprint; trailing noise (signatures, tracking footers) should not
// defeat dedup.
const contentPrefixLen = 128

// Fingerprint returns a stable hash over the signal's identity: origin,
// topic, minute-truncated timestamp and the content prefix. Two deliveries
// of the same logical signal hash identically even when delivery jitter
// shifts the timestamp within the minute.
func Fingerprint(sig models.Signal) string {
	content := sig.Content
	if len(content) > contentPrefixLen {
		content = content[:contentPrefixLen]
	}

	seed := fmt.Sprintf("%s|%s|%d|%s",
		sig.Origin,
		sig.Topic,
		sig.Timestamp.UTC().Truncate(time.Minute).Unix(),
		content,
	)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}
