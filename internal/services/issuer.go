// internal/services/issuer.go
package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
	"github.com/Corphon/PickupDesk/internal/models"
	"github.com/Corphon/PickupDesk/internal/storage"
	"github.com/Corphon/PickupDesk/internal/voucher"
)

// IssueRequest asks for a voucher over some of an owner's items
type IssueRequest struct {
	ItemType models.ItemType `json:"item_type"`
	OwnerID  string          `json:"owner_id"`
	ItemIDs  []string        `json:"item_ids"`
	QRSize   int             `json:"qr_size,omitempty"`
}

// IssuedVoucher is what the customer-facing side renders
type IssuedVoucher struct {
	Payload    string             `json:"payload"`
	Kind       models.VoucherKind `json:"kind"`
	ItemType   models.ItemType    `json:"item_type"`
	ItemIDs    []string           `json:"item_ids"`
	SkippedIDs []string           `json:"skipped_ids"`
	IssuedAt   time.Time          `json:"issued_at"`
	QRCodePNG  string             `json:"qr_png_base64"`
}

// IssueService encodes vouchers. Nothing is recorded server-side; the voucher
// is a bearer token whose authority ends at the redeem transition.
type IssueService struct {
	store storage.ItemStore
	now   func() time.Time
}

// NewIssueService 创建凭证签发服务
func NewIssueService(store storage.ItemStore) *IssueService {
	return &IssueService{store: store, now: time.Now}
}

// Issue keeps the requested items that belong to OwnerID and are redeemable
// right now, then encodes a single voucher for one item or a batch otherwise.
func (s *IssueService) Issue(ctx context.Context, req IssueRequest) (*IssuedVoucher, error) {
	if !req.ItemType.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown item type %q", req.ItemType), nil)
	}
	owner := strings.TrimSpace(req.OwnerID)
	if owner == "" {
		return nil, apperrors.NewValidationError("owner_id is required", nil)
	}
	ids := voucher.Dedupe(req.ItemIDs)
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("item_ids is required", nil)
	}
	if len(ids) > voucher.MaxBatchSize {
		return nil, apperrors.NewValidationError(fmt.Sprintf("a voucher holds at most %d items", voucher.MaxBatchSize), nil)
	}

	keep := make([]string, 0, len(ids))
	skipped := make([]string, 0)
	for _, id := range ids {
		item, err := s.store.Get(ctx, req.ItemType, id)
		if err != nil {
			if apperrors.IsNotFoundError(err) {
				skipped = append(skipped, id)
				continue
			}
			return nil, apperrors.NewTransientError("item store unavailable", err)
		}
		if item.OwnerID != owner || models.Classify(item.Type, item.Status) != "" {
			skipped = append(skipped, id)
			continue
		}
		keep = append(keep, id)
	}
	if len(keep) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no redeemable %s items for owner %s", req.ItemType, owner), nil)
	}

	now := s.now()
	var payload string
	var err error
	kind := models.VoucherBatch
	if len(keep) == 1 {
		kind = models.VoucherSingle
		payload, err = voucher.EncodeSingle(req.ItemType, keep[0], now)
	} else {
		payload, err = voucher.EncodeBatch(req.ItemType, keep, owner, now)
	}
	if err != nil {
		return nil, err
	}

	png, err := voucher.RenderQR(payload, req.QRSize)
	if err != nil {
		return nil, fmt.Errorf("render voucher code: %w", err)
	}

	return &IssuedVoucher{
		Payload:    payload,
		Kind:       kind,
		ItemType:   req.ItemType,
		ItemIDs:    keep,
		SkippedIDs: skipped,
		IssuedAt:   now.UTC(),
		QRCodePNG:  base64.StdEncoding.EncodeToString(png),
	}, nil
}
