// ABOUTME: ULID generation for send-audit entries
// ABOUTME: Audit IDs sort lexicographically by transmission time

package store

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// newAuditID returns a ULID seeded with the send timestamp so that audit
// entries sort by transmission time.
func newAuditID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t.UTC()), ulid.DefaultEntropy()).String()
}
