// internal/voucher/codec.go
package voucher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
	"github.com/Corphon/PickupDesk/internal/models"
)

const (
	// MaxPayloadLength bounds what Decode will look at; optical codes carry far less
	MaxPayloadLength = 4096
	// MaxBatchSize bounds the ids one batch voucher may reference
	MaxBatchSize = 200
)

// payload is the JSON object embedded in the optical code
type payload struct {
	Version  int      `json:"v,omitempty"`
	Kind     string   `json:"kind"`
	Type     string   `json:"type,omitempty"`
	ItemID   flexID   `json:"itemId,omitempty"`
	ItemIDs  []flexID `json:"itemIds,omitempty"`
	OwnerID  flexID   `json:"ownerId,omitempty"`
	IssuedAt int64    `json:"issuedAt,omitempty"` // unix millis
	Count    int      `json:"count,omitempty"`
}

// flexID accepts ids written either as JSON strings or numbers
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	*f = flexID(n.String())
	return nil
}

// EncodeSingle builds the payload for a voucher over one item
func EncodeSingle(itemType models.ItemType, itemID string, now time.Time) (string, error) {
	if !itemType.Valid() {
		return "", apperrors.NewValidationError(fmt.Sprintf("unknown item type %q", itemType), nil)
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return "", apperrors.NewValidationError("item id is required", nil)
	}
	return marshal(payload{
		Version:  models.CurrentSchemaVersion,
		Kind:     string(models.VoucherSingle),
		Type:     string(itemType),
		ItemID:   flexID(itemID),
		IssuedAt: now.UnixMilli(),
	})
}

// EncodeBatch builds the payload for a voucher over several items.
// Ids are deduplicated keeping first-seen order; count is the deduplicated length.
func EncodeBatch(itemType models.ItemType, itemIDs []string, ownerID string, now time.Time) (string, error) {
	if !itemType.Valid() {
		return "", apperrors.NewValidationError(fmt.Sprintf("unknown item type %q", itemType), nil)
	}
	ids := Dedupe(itemIDs)
	if len(ids) == 0 {
		return "", apperrors.NewValidationError("at least one item id is required", nil)
	}
	if len(ids) > MaxBatchSize {
		return "", apperrors.NewValidationError(fmt.Sprintf("a voucher holds at most %d items", MaxBatchSize), nil)
	}
	wire := make([]flexID, len(ids))
	for i, id := range ids {
		wire[i] = flexID(id)
	}
	return marshal(payload{
		Version:  models.CurrentSchemaVersion,
		Kind:     string(models.VoucherBatch),
		Type:     string(itemType),
		ItemIDs:  wire,
		OwnerID:  flexID(ownerID),
		IssuedAt: now.UnixMilli(),
		Count:    len(ids),
	})
}

func marshal(p payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("serialize voucher: %w", err)
	}
	return string(data), nil
}

// Decode turns scanned or typed text into a Voucher.
// Any input that is not a structurally valid voucher yields a decode error; it never panics.
func Decode(raw string) (models.Voucher, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return models.Voucher{}, apperrors.NewDecodeError("empty voucher", nil)
	}
	if len(text) > MaxPayloadLength {
		return models.Voucher{}, apperrors.NewDecodeError("voucher payload too long", nil)
	}

	if strings.HasPrefix(text, "{") {
		return decodeJSON(text)
	}

	itemID, secondaryKey, err := ParseLegacy(text)
	if err != nil {
		// typed text that is not a pickup code reports as an invalid format
		decodeErr := apperrors.NewDecodeError("not a voucher", err)
		decodeErr.Code = apperrors.CodeOf(err)
		return models.Voucher{}, decodeErr
	}
	return models.Voucher{
		Kind:         models.VoucherLegacyText,
		ItemType:     models.ItemTypeGarment,
		ItemIDs:      []string{itemID},
		Count:        1,
		SecondaryKey: secondaryKey,
		TargetStatus: models.StatusRedeemed,
		Raw:          text,
	}, nil
}

func decodeJSON(text string) (models.Voucher, error) {
	var p payload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return models.Voucher{}, apperrors.NewDecodeError("malformed voucher payload", err)
	}
	if p.Version > models.CurrentSchemaVersion {
		return models.Voucher{}, apperrors.NewDecodeError(fmt.Sprintf("unsupported voucher version %d", p.Version), nil)
	}

	// unversioned payloads predate the type field and were always photo vouchers
	itemType := models.ItemType(p.Type)
	if itemType == "" {
		itemType = models.ItemTypePhoto
	}
	if !itemType.Valid() {
		return models.Voucher{}, apperrors.NewDecodeError(fmt.Sprintf("unknown item type %q", p.Type), nil)
	}

	v := models.Voucher{
		SchemaVersion: p.Version,
		ItemType:      itemType,
		OwnerID:       strings.TrimSpace(string(p.OwnerID)),
		TargetStatus:  models.StatusRedeemed,
		Raw:           text,
	}
	if p.IssuedAt > 0 {
		v.IssuedAt = time.UnixMilli(p.IssuedAt).UTC()
	}

	switch models.VoucherKind(p.Kind) {
	case models.VoucherSingle:
		id := strings.TrimSpace(string(p.ItemID))
		if id == "" {
			return models.Voucher{}, apperrors.NewDecodeError("single voucher without item id", nil)
		}
		v.Kind = models.VoucherSingle
		v.ItemIDs = []string{id}
	case models.VoucherBatch:
		raw := make([]string, len(p.ItemIDs))
		for i, id := range p.ItemIDs {
			raw[i] = string(id)
		}
		ids := Dedupe(raw)
		if len(ids) == 0 {
			return models.Voucher{}, apperrors.NewDecodeError("batch voucher without item ids", nil)
		}
		if len(ids) > MaxBatchSize {
			return models.Voucher{}, apperrors.NewDecodeError("batch voucher too large", nil)
		}
		if p.Count < 0 {
			return models.Voucher{}, apperrors.NewDecodeError("negative item count", nil)
		}
		// older issuers counted ids before dropping repeats
		if p.Count != 0 && p.Count != len(ids) && p.Count != len(p.ItemIDs) {
			return models.Voucher{}, apperrors.NewDecodeError(
				fmt.Sprintf("count %d does not match %d item ids", p.Count, len(ids)), nil)
		}
		v.Kind = models.VoucherBatch
		v.ItemIDs = ids
	default:
		return models.Voucher{}, apperrors.NewDecodeError(fmt.Sprintf("unknown voucher kind %q", p.Kind), nil)
	}
	v.Count = len(v.ItemIDs)
	return v, nil
}

// Dedupe trims ids, drops blanks and repeats, and keeps first-seen order
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
