// internal/terminal/outcome.go
package terminal

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
	"github.com/Corphon/PickupDesk/internal/models"
)

// OutcomeKind names what the operator sees after a scan
type OutcomeKind string

const (
	OutcomeRedeemed          OutcomeKind = "redeemed"
	OutcomePartial           OutcomeKind = "partial"
	OutcomeAlreadyRedeemed   OutcomeKind = "already_redeemed"
	OutcomeNotReady          OutcomeKind = "not_ready"
	OutcomeIneligible        OutcomeKind = "ineligible"
	OutcomeNotFound          OutcomeKind = "not_found"
	OutcomeInvalidFormat     OutcomeKind = "invalid_format"
	OutcomeExpired           OutcomeKind = "expired"
	OutcomeTransient         OutcomeKind = "transient"
	OutcomeConfirm           OutcomeKind = "confirm"
	OutcomeCameraUnavailable OutcomeKind = "camera_unavailable"
)

// Outcome is one message on the terminal result surface
type Outcome struct {
	Kind      OutcomeKind                 `json:"kind"`
	Message   string                      `json:"message"`
	Input     string                      `json:"input,omitempty"`
	Result    *models.RedemptionResult    `json:"result,omitempty"`
	Preview   *models.VerificationPreview `json:"preview,omitempty"`
	SessionID string                      `json:"session_id,omitempty"`
	At        time.Time                   `json:"at"`
}

// Display renders outcomes. Show is only called from the terminal loop.
type Display interface {
	Show(Outcome)
}

// DisplayFunc adapts a function to Display
type DisplayFunc func(Outcome)

func (f DisplayFunc) Show(o Outcome) { f(o) }

func outcomeFromRedeem(v models.Voucher, result *models.RedemptionResult, err error) Outcome {
	if err != nil {
		o := outcomeFromError(err, "")
		o.Result = result
		return o
	}

	o := Outcome{Result: result}
	switch {
	case result.RedeemedCount == result.RequestedCount:
		o.Kind = OutcomeRedeemed
		if result.RequestedCount == 1 {
			o.Message = "Redeemed" + titleSuffix(result.Items)
		} else {
			o.Message = fmt.Sprintf("All %d items redeemed", result.RequestedCount)
		}
	case result.RedeemedCount == 0 && len(result.AlreadyRedeemedIDs) == result.RequestedCount:
		o.Kind = OutcomeAlreadyRedeemed
		o.Message = messages[OutcomeAlreadyRedeemed]
	default:
		o.Kind = OutcomePartial
		o.Message = partialMessage(result)
	}
	return o
}

func partialMessage(r *models.RedemptionResult) string {
	msg := fmt.Sprintf("%d of %d redeemed", r.RedeemedCount, r.RequestedCount)
	var details []string
	if n := len(r.AlreadyRedeemedIDs); n > 0 {
		details = append(details, fmt.Sprintf("%d already redeemed", n))
	}
	if n := len(r.IneligibleIDs); n > 0 {
		details = append(details, fmt.Sprintf("%d not redeemable", n))
	}
	if n := len(r.NotFoundIDs); n > 0 {
		details = append(details, fmt.Sprintf("%d not found", n))
	}
	if len(details) > 0 {
		msg += " (" + strings.Join(details, ", ") + ")"
	}
	return msg
}

// outcomeFromPreview turns a legacy-text preview into a confirm prompt, or into
// the refusal the redeem would produce
func outcomeFromPreview(preview *models.VerificationPreview) Outcome {
	o := Outcome{Preview: preview}
	if preview.RedeemableCount > 0 {
		o.Kind = OutcomeConfirm
		item := preview.Items[0]
		o.Message = fmt.Sprintf("Redeem %s for %s? Confirm to proceed.", orDefault(item.Title, item.ID), orDefault(item.OwnerName, "customer"))
		return o
	}

	o.Kind = OutcomeNotFound
	if len(preview.Items) > 0 && preview.Items[0].Found {
		o.Kind = kindForReason(preview.Items[0].Reason)
	}
	o.Message = messages[o.Kind]
	return o
}

func outcomeFromError(err error, input string) Outcome {
	var kind OutcomeKind
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeDecode, apperrors.ErrorTypeParse, apperrors.ErrorTypeValidation:
		kind = OutcomeInvalidFormat
	case apperrors.ErrorTypeNotFound:
		kind = OutcomeNotFound
	case apperrors.ErrorTypeIneligible:
		kind = kindForReason(apperrors.ReasonOf(err))
	case apperrors.ErrorTypeExpired:
		kind = OutcomeExpired
	default:
		kind = OutcomeTransient
	}

	o := Outcome{Kind: kind, Message: messages[kind], Input: input}
	if kind == OutcomeInvalidFormat && input != "" {
		o.Message = fmt.Sprintf("Invalid format: %q", input)
	}
	return o
}

func kindForReason(reason models.IneligibleReason) OutcomeKind {
	switch reason {
	case models.ReasonAlreadyRedeemed:
		return OutcomeAlreadyRedeemed
	case models.ReasonCancelled:
		return OutcomeIneligible
	default:
		return OutcomeNotReady
	}
}

var messages = map[OutcomeKind]string{
	OutcomeAlreadyRedeemed:   "Already redeemed. Nothing to hand out.",
	OutcomeNotReady:          "Not ready yet. Ask the customer to wait.",
	OutcomeIneligible:        "This order was cancelled and cannot be picked up.",
	OutcomeNotFound:          "No matching item for this code.",
	OutcomeInvalidFormat:     "Invalid format.",
	OutcomeExpired:           "This voucher has expired. Ask the customer to refresh it.",
	OutcomeTransient:         "Could not reach the server. Scan again.",
	OutcomeCameraUnavailable: "Camera unavailable. Enter the code manually.",
}

func titleSuffix(items []models.ItemPreview) string {
	if len(items) == 1 && items[0].Title != "" {
		return ": " + items[0].Title
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
