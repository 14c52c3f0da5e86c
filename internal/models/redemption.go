// internal/models/redemption.go
package models

// RedemptionResult reports what a redeem request actually changed.
// RedeemedCount may be below RequestedCount without the request being an error.
type RedemptionResult struct {
	Kind               VoucherKind   `json:"kind"`
	ItemType           ItemType      `json:"item_type"`
	RequestedCount     int           `json:"requested_count"`
	RedeemedCount      int           `json:"redeemed_count"`
	RedeemedIDs        []string      `json:"redeemed_ids"`
	AlreadyRedeemedIDs []string      `json:"already_redeemed_ids"`
	IneligibleIDs      []string      `json:"ineligible_ids"`
	NotFoundIDs        []string      `json:"not_found_ids"`
	Items              []ItemPreview `json:"items,omitempty"`
}

// NewRedemptionResult returns a result with non-nil id lists so it encodes as []
func NewRedemptionResult(v Voucher) *RedemptionResult {
	return &RedemptionResult{
		Kind:               v.Kind,
		ItemType:           v.ItemType,
		RequestedCount:     len(v.ItemIDs),
		RedeemedIDs:        []string{},
		AlreadyRedeemedIDs: []string{},
		IneligibleIDs:      []string{},
		NotFoundIDs:        []string{},
	}
}

// MarkRedeemed records an applied transition
func (r *RedemptionResult) MarkRedeemed(id string) {
	r.RedeemedIDs = append(r.RedeemedIDs, id)
	r.RedeemedCount = len(r.RedeemedIDs)
}

// Partial reports a qualified success: some but not all items were redeemed
func (r *RedemptionResult) Partial() bool {
	return r.RedeemedCount > 0 && r.RedeemedCount < r.RequestedCount
}

// ItemPreview is the operator-facing view of one referenced item
type ItemPreview struct {
	ID         string           `json:"id"`
	Title      string           `json:"title,omitempty"`
	OwnerName  string           `json:"owner_name,omitempty"`
	Status     Status           `json:"status,omitempty"`
	Redeemable bool             `json:"redeemable"`
	Found      bool             `json:"found"`
	Reason     IneligibleReason `json:"reason,omitempty"`
}

// VerificationPreview is the read-only answer to "what would this voucher redeem"
type VerificationPreview struct {
	Kind            VoucherKind   `json:"kind"`
	ItemType        ItemType      `json:"item_type"`
	Count           int           `json:"count"`
	Items           []ItemPreview `json:"items"`
	RedeemableCount int           `json:"redeemable_count"`
	RequiresConfirm bool          `json:"requires_confirm"`
}
