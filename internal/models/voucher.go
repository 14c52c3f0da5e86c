// internal/models/voucher.go
package models

import "time"

// VoucherKind discriminates the voucher variants
type VoucherKind string

const (
	VoucherSingle     VoucherKind = "single"
	VoucherBatch      VoucherKind = "batch"
	VoucherLegacyText VoucherKind = "legacy-text"
)

// CurrentSchemaVersion is written into every JSON payload we encode
const CurrentSchemaVersion = 1

// Voucher is a decoded bearer claim on one or more items.
// It is never persisted; its authority ends at the conditional transition it triggers.
type Voucher struct {
	SchemaVersion int         `json:"schema_version"`
	Kind          VoucherKind `json:"kind"`
	ItemType      ItemType    `json:"item_type"`
	ItemIDs       []string    `json:"item_ids"`
	OwnerID       string      `json:"owner_id,omitempty"`
	IssuedAt      time.Time   `json:"issued_at,omitempty"`
	Count         int         `json:"count"`
	SecondaryKey  string      `json:"secondary_key,omitempty"` // legacy-text only
	TargetStatus  Status      `json:"target_status"`
	Raw           string      `json:"-"`
}

// RequiresConfirm reports whether the terminal must ask the operator before redeeming
func (v Voucher) RequiresConfirm() bool {
	return v.Kind == VoucherLegacyText
}
