package analysis

import (
	"encoding/json"
	"time"
)

// ContentMetadata describes one piece of stored content, addressed by the
// sha256 of its bytes. A blob stays alive while any referenced root exists or
// until its expiration date passes with no roots attached.
type ContentMetadata struct {
	Name           string          `json:"name"`
	SHA256         string          `json:"sha256,omitempty"`
	Size           int64           `json:"size,omitempty"`
	InsertDate     time.Time       `json:"insert_date"`
	Roots          []string        `json:"roots,omitempty"`
	Location       string          `json:"location,omitempty"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
	Custom         json.RawMessage `json:"custom,omitempty"`
}

// Expired reports whether the content is eligible for deletion: past its
// expiration date with no referencing roots left.
func (m *ContentMetadata) Expired(now time.Time) bool {
	if m.ExpirationDate == nil {
		return false
	}
	return !m.ExpirationDate.After(now) && len(m.Roots) == 0
}
