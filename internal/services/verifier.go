// internal/services/verifier.go
package services

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
	"github.com/Corphon/PickupDesk/internal/models"
	"github.com/Corphon/PickupDesk/internal/storage"
	"github.com/Corphon/PickupDesk/internal/utils"
	"github.com/Corphon/PickupDesk/internal/voucher"
)

// VerifierOptions tune a RedemptionVerifier; zero values are usable
type VerifierOptions struct {
	// MaxAge rejects JSON vouchers issued longer ago than this. 0 disables expiry.
	MaxAge  time.Duration
	Now     func() time.Time
	Logger  *utils.Logger
	Metrics *utils.RedemptionMetrics
}

// RedemptionVerifier resolves vouchers against the item store and applies the
// redeem transition. It holds no per-voucher state between calls.
type RedemptionVerifier struct {
	store   storage.ItemStore
	maxAge  time.Duration
	now     func() time.Time
	logger  *utils.Logger
	metrics *utils.RedemptionMetrics
}

// NewRedemptionVerifier 创建核销校验服务
func NewRedemptionVerifier(store storage.ItemStore, opts VerifierOptions) *RedemptionVerifier {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = utils.NewRedemptionMetrics(nil, opts.Logger)
	}
	return &RedemptionVerifier{
		store:   storage.Guarded(store),
		maxAge:  opts.MaxAge,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// VerifyRaw decodes raw and previews it
func (s *RedemptionVerifier) VerifyRaw(ctx context.Context, raw string) (*models.VerificationPreview, error) {
	v, err := voucher.Decode(raw)
	if err != nil {
		s.metrics.RecordVerify(codeOf(err), 0)
		return nil, err
	}
	return s.Verify(ctx, v)
}

// RedeemRaw decodes raw and redeems it
func (s *RedemptionVerifier) RedeemRaw(ctx context.Context, raw string) (*models.RedemptionResult, error) {
	v, err := voucher.Decode(raw)
	if err != nil {
		s.metrics.RecordRedeem(codeOf(err), 0, 0, 0)
		return nil, err
	}
	return s.Redeem(ctx, v)
}

// Verify reports the current state of every item the voucher references
// without changing anything. Per-item problems are reported in the preview;
// only voucher-level and backend failures are returned as errors.
func (s *RedemptionVerifier) Verify(ctx context.Context, v models.Voucher) (*models.VerificationPreview, error) {
	start := s.now()
	preview, err := s.verify(ctx, v)
	s.metrics.RecordVerify(codeOf(err), s.now().Sub(start))
	return preview, err
}

func (s *RedemptionVerifier) verify(ctx context.Context, v models.Voucher) (*models.VerificationPreview, error) {
	if err := s.checkVoucher(v); err != nil {
		return nil, err
	}

	preview := &models.VerificationPreview{
		Kind:            v.Kind,
		ItemType:        v.ItemType,
		Count:           len(v.ItemIDs),
		Items:           make([]models.ItemPreview, 0, len(v.ItemIDs)),
		RequiresConfirm: v.RequiresConfirm(),
	}
	for _, id := range v.ItemIDs {
		item, err := s.resolve(ctx, v, id)
		if err != nil {
			return nil, err
		}
		p := previewOf(id, item)
		if p.Redeemable {
			preview.RedeemableCount++
		}
		preview.Items = append(preview.Items, p)
	}
	return preview, nil
}

// Redeem attempts the redeem transition for every referenced item.
//
// Batch vouchers go to the store as one bulk conditional transition and never
// fail for per-item refusals; the result tells how many were redeemed. Single
// and legacy vouchers that redeem nothing return the result together with a
// NotFound or IneligibleState error.
func (s *RedemptionVerifier) Redeem(ctx context.Context, v models.Voucher) (*models.RedemptionResult, error) {
	start := s.now()
	result, err := s.redeem(ctx, v)

	outcome := codeOf(err)
	redeemed, requested := 0, len(v.ItemIDs)
	if result != nil {
		redeemed = result.RedeemedCount
		if err == nil && result.Partial() {
			outcome = "partial"
		}
	}
	s.metrics.RecordRedeem(outcome, redeemed, requested, s.now().Sub(start))

	fields := map[string]interface{}{
		"kind":       v.Kind,
		"item_type":  v.ItemType,
		"requested":  requested,
		"redeemed":   redeemed,
		"outcome":    outcome,
		"operator":   OperatorFrom(ctx),
		"request_id": RequestIDFrom(ctx),
	}
	if apperrors.IsTransientError(err) {
		fields["error"] = err.Error()
		s.logger.Error("redemption failed", fields)
	} else {
		s.logger.Info("redemption attempt", fields)
	}
	return result, err
}

func (s *RedemptionVerifier) redeem(ctx context.Context, v models.Voucher) (*models.RedemptionResult, error) {
	if err := s.checkVoucher(v); err != nil {
		return nil, err
	}

	result := models.NewRedemptionResult(v)
	from := models.RedeemableFrom(v.ItemType)
	to := v.TargetStatus
	if to == "" {
		to = models.StatusRedeemed
	}

	// preconditions: the item exists, has the voucher's type and, for legacy text,
	// the matching secondary key. Anything else is reported as not found.
	resolved := make(map[string]*models.Item, len(v.ItemIDs))
	eligible := make([]string, 0, len(v.ItemIDs))
	for _, id := range v.ItemIDs {
		item, err := s.resolve(ctx, v, id)
		if err != nil {
			return result, err
		}
		if item == nil {
			continue
		}
		resolved[id] = item
		eligible = append(eligible, id)
	}

	var applied []string
	var storeErr error
	if v.Kind == models.VoucherBatch {
		applied, storeErr = s.store.BulkConditionalTransition(ctx, v.ItemType, eligible, from, to)
	} else if len(eligible) == 1 {
		ok, err := s.store.ConditionalTransition(ctx, v.ItemType, eligible[0], from, to)
		if ok {
			applied = eligible
		}
		storeErr = err
	}

	appliedSet := make(map[string]struct{}, len(applied))
	for _, id := range applied {
		appliedSet[id] = struct{}{}
	}
	for _, id := range eligible {
		if _, ok := appliedSet[id]; ok {
			result.MarkRedeemed(id)
		}
	}
	if storeErr != nil {
		return result, apperrors.NewTransientError("item store unavailable", storeErr)
	}

	// classify what the store refused from a fresh read
	for _, id := range v.ItemIDs {
		before, found := resolved[id]
		if !found {
			result.NotFoundIDs = append(result.NotFoundIDs, id)
			result.Items = append(result.Items, previewOf(id, nil))
			continue
		}
		if _, ok := appliedSet[id]; ok {
			result.Items = append(result.Items, models.ItemPreview{
				ID:        id,
				Title:     before.Title,
				OwnerName: before.OwnerName,
				Status:    to,
				Found:     true,
			})
			continue
		}

		item, err := s.resolve(ctx, v, id)
		if err != nil {
			return result, err
		}
		p := previewOf(id, item)
		result.Items = append(result.Items, p)
		switch {
		case !p.Found:
			result.NotFoundIDs = append(result.NotFoundIDs, id)
		case p.Reason == models.ReasonAlreadyRedeemed:
			result.AlreadyRedeemedIDs = append(result.AlreadyRedeemedIDs, id)
		default:
			result.IneligibleIDs = append(result.IneligibleIDs, id)
		}
	}

	if v.Kind == models.VoucherBatch || result.RedeemedCount > 0 {
		return result, nil
	}
	return result, singleItemError(v, result)
}

func singleItemError(v models.Voucher, result *models.RedemptionResult) error {
	id := ""
	if len(v.ItemIDs) > 0 {
		id = v.ItemIDs[0]
	}
	switch {
	case len(result.NotFoundIDs) > 0:
		return apperrors.NewNotFoundError(fmt.Sprintf("%s item %s not found", v.ItemType, id), nil)
	case len(result.AlreadyRedeemedIDs) > 0:
		return apperrors.NewIneligibleError(models.ReasonAlreadyRedeemed, fmt.Sprintf("%s item %s already redeemed", v.ItemType, id))
	}
	reason := models.ReasonNotReady
	for _, p := range result.Items {
		if p.ID == id && p.Reason != "" {
			reason = p.Reason
		}
	}
	return apperrors.NewIneligibleError(reason, fmt.Sprintf("%s item %s cannot be redeemed: %s", v.ItemType, id, reason))
}

// checkVoucher rejects vouchers that are malformed or expired before any lookup
func (s *RedemptionVerifier) checkVoucher(v models.Voucher) error {
	switch v.Kind {
	case models.VoucherSingle, models.VoucherLegacyText:
		if len(v.ItemIDs) != 1 {
			return apperrors.NewValidationError(fmt.Sprintf("%s voucher must reference exactly one item", v.Kind), nil)
		}
	case models.VoucherBatch:
		if len(v.ItemIDs) == 0 {
			return apperrors.NewValidationError("batch voucher references no items", nil)
		}
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown voucher kind %q", v.Kind), nil)
	}
	if !v.ItemType.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown item type %q", v.ItemType), nil)
	}
	if v.TargetStatus != "" && v.TargetStatus != models.StatusRedeemed {
		return apperrors.NewValidationError(fmt.Sprintf("vouchers only redeem, not %s", v.TargetStatus), nil)
	}

	// legacy text carries no timestamp and never expires
	if s.maxAge > 0 && v.Kind != models.VoucherLegacyText && !v.IssuedAt.IsZero() {
		if age := s.now().Sub(v.IssuedAt); age > s.maxAge {
			return apperrors.NewExpiredError(fmt.Sprintf("voucher issued %s ago", age.Truncate(time.Minute)), nil)
		}
	}
	return nil
}

// resolve returns the item id refers to, or nil when it does not resolve for
// this voucher. Store failures come back as transient errors.
func (s *RedemptionVerifier) resolve(ctx context.Context, v models.Voucher, id string) (*models.Item, error) {
	item, err := s.store.Get(ctx, v.ItemType, id)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, apperrors.NewTransientError("item store unavailable", err)
	}
	if item.Type != v.ItemType {
		return nil, nil
	}
	if v.Kind == models.VoucherLegacyText {
		// an empty key on either side never matches
		want := voucher.NormalizeSecondaryKey(v.SecondaryKey)
		if want == "" || voucher.NormalizeSecondaryKey(item.SecondaryKey) != want {
			return nil, nil
		}
	}
	return item, nil
}

func previewOf(id string, item *models.Item) models.ItemPreview {
	if item == nil {
		return models.ItemPreview{ID: id, Found: false}
	}
	p := models.ItemPreview{
		ID:        id,
		Title:     item.Title,
		OwnerName: item.OwnerName,
		Status:    item.Status,
		Found:     true,
	}
	if reason := models.Classify(item.Type, item.Status); reason != "" {
		p.Reason = reason
	} else {
		p.Redeemable = true
	}
	return p
}

// codeOf is the metrics label for err
func codeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if code := apperrors.CodeOf(err); code != "" {
		return code
	}
	return "INTERNAL"
}
