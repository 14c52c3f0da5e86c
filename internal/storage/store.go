// internal/storage/store.go
package storage

import (
	"context"
	"fmt"
	"regexp"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
	"github.com/Corphon/PickupDesk/internal/models"
	"github.com/Corphon/PickupDesk/internal/voucher"
)

// ItemStore holds redeemable items. Status changes only go through the
// conditional transitions; none of them overwrite a status unconditionally.
type ItemStore interface {
	// Get returns a NotFound error when the item does not exist
	Get(ctx context.Context, itemType models.ItemType, id string) (*models.Item, error)
	// ConditionalTransition moves the item from -> to only if its status is exactly from.
	// A missing item is reported as not applied.
	ConditionalTransition(ctx context.Context, itemType models.ItemType, id string, from, to models.Status) (bool, error)
	// BulkConditionalTransition applies the same compare-and-set to every id as one
	// consistent operation and returns the ids it applied to, in request order.
	BulkConditionalTransition(ctx context.Context, itemType models.ItemType, ids []string, from, to models.Status) ([]string, error)
	// Put creates or replaces an item. Used by seeding and the CRUD side, never by redemption.
	Put(ctx context.Context, item *models.Item) error
	Close() error
}

var safeID = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

// validID rejects ids that could escape a namespace when used as a key or file name
func validID(id string) bool {
	return safeID.MatchString(id) && id != "." && id != ".."
}

func notFound(itemType models.ItemType, id string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("%s item %s not found", itemType, id), nil)
}

// Guarded wraps a store and refuses any transition that is not an edge of the
// item type's state machine before the underlying store is touched.
func Guarded(inner ItemStore) ItemStore {
	if g, ok := inner.(*guardedStore); ok {
		return g
	}
	return &guardedStore{inner: inner}
}

type guardedStore struct {
	inner ItemStore
}

// IllegalTransitionError reports an edge that the state machine does not contain
func IllegalTransitionError(itemType models.ItemType, from, to models.Status) error {
	return apperrors.NewValidationError(fmt.Sprintf("illegal %s transition %s -> %s", itemType, from, to), nil)
}

func (g *guardedStore) Get(ctx context.Context, itemType models.ItemType, id string) (*models.Item, error) {
	return g.inner.Get(ctx, itemType, id)
}

func (g *guardedStore) ConditionalTransition(ctx context.Context, itemType models.ItemType, id string, from, to models.Status) (bool, error) {
	if !models.CanTransition(itemType, from, to) {
		return false, IllegalTransitionError(itemType, from, to)
	}
	return g.inner.ConditionalTransition(ctx, itemType, id, from, to)
}

func (g *guardedStore) BulkConditionalTransition(ctx context.Context, itemType models.ItemType, ids []string, from, to models.Status) ([]string, error) {
	if !models.CanTransition(itemType, from, to) {
		return nil, IllegalTransitionError(itemType, from, to)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}
	return g.inner.BulkConditionalTransition(ctx, itemType, ids, from, to)
}

func (g *guardedStore) Put(ctx context.Context, item *models.Item) error {
	if item == nil {
		return apperrors.NewValidationError("item is required", nil)
	}
	if !item.Type.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown item type %q", item.Type), nil)
	}
	if !validID(item.ID) {
		return apperrors.NewValidationError(fmt.Sprintf("invalid item id %q", item.ID), nil)
	}
	if !models.ValidStatus(item.Type, item.Status) {
		return apperrors.NewValidationError(fmt.Sprintf("status %q is not a %s status", item.Status, item.Type), nil)
	}
	// printed garment codes are only accepted together with this key
	if item.Type == models.ItemTypeGarment && voucher.NormalizeSecondaryKey(item.SecondaryKey) == "" {
		return apperrors.NewValidationError(fmt.Sprintf("garment item %s needs a secondary key", item.ID), nil)
	}
	return g.inner.Put(ctx, item)
}

func (g *guardedStore) Close() error {
	return g.inner.Close()
}
