// internal/models/status.go
package models

// Status is the lifecycle state of a redeemable item
type Status string

const (
	// photo reservation
	StatusReserved  Status = "reserved"
	StatusConfirmed Status = "confirmed"

	// garment order
	StatusUnpaid           Status = "unpaid"
	StatusPaymentPending   Status = "payment_pending"
	StatusPaymentConfirmed Status = "payment_confirmed"
	StatusOrderFinalized   Status = "order_finalized"

	// shared terminal states
	StatusRedeemed  Status = "redeemed"
	StatusCancelled Status = "cancelled"
)

// IneligibleReason explains why an item refused a redemption
type IneligibleReason string

const (
	ReasonAlreadyRedeemed IneligibleReason = "already_redeemed"
	ReasonCancelled       IneligibleReason = "cancelled"
	ReasonNotReady        IneligibleReason = "not_ready"
)

// transitions lists every legal edge per item type. Anything missing is illegal.
var transitions = map[ItemType]map[Status][]Status{
	ItemTypePhoto: {
		StatusReserved:  {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusRedeemed, StatusCancelled},
		StatusRedeemed:  nil,
		StatusCancelled: nil,
	},
	ItemTypeGarment: {
		StatusUnpaid:           {StatusPaymentPending, StatusCancelled},
		StatusPaymentPending:   {StatusPaymentConfirmed, StatusCancelled},
		StatusPaymentConfirmed: {StatusOrderFinalized, StatusCancelled},
		StatusOrderFinalized:   {StatusRedeemed, StatusCancelled},
		StatusRedeemed:         nil,
		StatusCancelled:        nil,
	},
}

// ValidStatus reports whether status belongs to the machine of itemType
func ValidStatus(itemType ItemType, status Status) bool {
	edges, ok := transitions[itemType]
	if !ok {
		return false
	}
	_, ok = edges[status]
	return ok
}

// CanTransition reports whether from -> to is an edge of the itemType machine
func CanTransition(itemType ItemType, from, to Status) bool {
	edges, ok := transitions[itemType]
	if !ok {
		return false
	}
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves status
func IsTerminal(itemType ItemType, status Status) bool {
	return ValidStatus(itemType, status) && len(transitions[itemType][status]) == 0
}

// RedeemableFrom returns the only source state the voucher protocol redeems from
func RedeemableFrom(itemType ItemType) Status {
	switch itemType {
	case ItemTypePhoto:
		return StatusConfirmed
	case ItemTypeGarment:
		return StatusOrderFinalized
	default:
		return ""
	}
}

// Classify maps a status that is not the redeem source to the reason an operator sees.
// Returns an empty reason when status is the redeem source.
func Classify(itemType ItemType, status Status) IneligibleReason {
	switch {
	case status == RedeemableFrom(itemType):
		return ""
	case status == StatusRedeemed:
		return ReasonAlreadyRedeemed
	case status == StatusCancelled:
		return ReasonCancelled
	default:
		return ReasonNotReady
	}
}
