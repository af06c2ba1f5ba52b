package idgen

import (
	"fmt"
	"time"
)

// recordIDLength and digestIDLength are the base36 suffix widths for the
// two ID kinds katra mints. Both pass through GenerateHashID's existing
// length/nonce-collision handling.
const (
	recordIDLength = 8
	digestIDLength = 8
)

// NewRecordID mints a content-addressed Tier-1 record ID: "rec-<base36>".
// The hash input is the record's ci_id, content, and timestamp, so two
// identical stores of the same content at the same instant collide and
// must be retried with an incremented nonce.
func NewRecordID(ciID, content string, timestamp time.Time, nonce int) string {
	return GenerateHashID("rec", ciID, content, "", timestamp, recordIDLength, nonce)
}

// NewDigestID mints a content-addressed Tier-2 digest ID: "dig-<base36>".
// The hash input is the digest's bucket identity (period_type, period_id)
// plus ci_id and digest_type, per spec §3 — distinct from a record ID's
// title/description/creator inputs.
func NewDigestID(periodType, periodID, ciID, digestType string, timestamp time.Time, nonce int) string {
	content := fmt.Sprintf("%s|%s|%s", periodType, periodID, digestType)
	return GenerateHashID("dig", content, ciID, "", timestamp, digestIDLength, nonce)
}
