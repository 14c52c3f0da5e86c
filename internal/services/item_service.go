// internal/services/item_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
	"github.com/Corphon/PickupDesk/internal/models"
	"github.com/Corphon/PickupDesk/internal/storage"
)

// ItemService 处理物品查询
type ItemService struct {
	store storage.ItemStore
}

// NewItemService 创建物品服务
func NewItemService(store storage.ItemStore) *ItemService {
	return &ItemService{store: storage.Guarded(store)}
}

// ItemStatus is the lookup view of an item: its record plus where it stands
// relative to redemption
type ItemStatus struct {
	*models.Item
	Redeemable bool                    `json:"redeemable"`
	Reason     models.IneligibleReason `json:"reason,omitempty"`
	Terminal   bool                    `json:"terminal"`
}

// GetItem looks an item up by type and id
func (s *ItemService) GetItem(ctx context.Context, itemType, id string) (*ItemStatus, error) {
	t := models.ItemType(strings.ToLower(strings.TrimSpace(itemType)))
	if !t.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown item type %q", itemType), nil)
	}
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewValidationError("item id is required", nil)
	}

	item, err := s.store.Get(ctx, t, id)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, err
		}
		return nil, apperrors.NewTransientError("item lookup failed", err)
	}

	reason := models.Classify(item.Type, item.Status)
	return &ItemStatus{
		Item:       item,
		Redeemable: reason == "",
		Reason:     reason,
		Terminal:   models.IsTerminal(item.Type, item.Status),
	}, nil
}
