// Package archive keeps a copy of every payment provider callback in S3,
// with phone numbers masked, plus a monthly JSONL manifest for audits.
package archive

import (
	"encoding/json"
	"time"
)

// CallbackRecord is the object written per callback.
type CallbackRecord struct {
	Version           string          `json:"version"`
	Provider          string          `json:"provider"`
	Kind              string          `json:"kind"` // booking|walkin
	CheckoutRequestID string          `json:"checkout_request_id"`
	ResultCode        int             `json:"result_code"`
	Outcome           string          `json:"outcome"`
	PhoneHash         string          `json:"phone_hash,omitempty"`
	ReceivedAt        time.Time       `json:"received_at"`
	Payload           json.RawMessage `json:"payload"`
}

// ManifestEntry is one line of the monthly manifest.
type ManifestEntry struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	Kind              string `json:"kind"`
	S3Key             string `json:"s3_key"`
	Outcome           string `json:"outcome"`
	ResultCode        int    `json:"result_code"`
	ArchivedAt        string `json:"archived_at"`
}
