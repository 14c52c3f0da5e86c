// internal/storage/sql_store.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Corphon/PickupDesk/internal/models"
)

// itemRecord 可核销条目表
type itemRecord struct {
	ItemType     string    `gorm:"column:item_type;type:varchar(16);primaryKey"`
	ID           string    `gorm:"column:id;type:varchar(64);primaryKey"`
	Status       string    `gorm:"column:status;type:varchar(32);index;not null"`
	SecondaryKey string    `gorm:"column:secondary_key;type:varchar(64)"`
	OwnerID      string    `gorm:"column:owner_id;type:varchar(64);index"`
	OwnerName    string    `gorm:"column:owner_name;type:varchar(120)"`
	Title        string    `gorm:"column:title;type:varchar(200)"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// TableName 指定表名
func (itemRecord) TableName() string {
	return "redeemable_items"
}

func (r *itemRecord) toModel() *models.Item {
	return &models.Item{
		ID:           r.ID,
		Type:         models.ItemType(r.ItemType),
		Status:       models.Status(r.Status),
		SecondaryKey: r.SecondaryKey,
		OwnerID:      r.OwnerID,
		OwnerName:    r.OwnerName,
		Title:        r.Title,
		UpdatedAt:    r.UpdatedAt,
	}
}

func recordFromModel(item *models.Item, now time.Time) *itemRecord {
	return &itemRecord{
		ItemType:     string(item.Type),
		ID:           item.ID,
		Status:       string(item.Status),
		SecondaryKey: item.SecondaryKey,
		OwnerID:      item.OwnerID,
		OwnerName:    item.OwnerName,
		Title:        item.Title,
		UpdatedAt:    now,
	}
}

// SQLStore keeps items in a relational table. The compare-and-set is a single
// UPDATE ... WHERE status = ? so the database arbitrates concurrent redeemers.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenSQLStore connects with the named driver ("sqlite" or "postgres")
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	maxConns := 0
	if driver == "sqlite" {
		// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY
		maxConns = 1
	}
	return openSQLStore(dialector, maxConns)
}

// NewSQLStore opens the dialector and migrates the item table
func NewSQLStore(dialector gorm.Dialector) (*SQLStore, error) {
	return openSQLStore(dialector, 0)
}

func openSQLStore(dialector gorm.Dialector, maxOpenConns int) (*SQLStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(maxOpenConns)
	}
	if err := db.AutoMigrate(&itemRecord{}); err != nil {
		return nil, fmt.Errorf("migrate item table: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

func (s *SQLStore) Get(ctx context.Context, itemType models.ItemType, id string) (*models.Item, error) {
	var record itemRecord
	err := s.db.WithContext(ctx).
		Where("item_type = ? AND id = ?", string(itemType), id).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(itemType, id)
		}
		return nil, fmt.Errorf("load item %s: %w", id, err)
	}
	return record.toModel(), nil
}

func (s *SQLStore) ConditionalTransition(ctx context.Context, itemType models.ItemType, id string, from, to models.Status) (bool, error) {
	return conditionalUpdate(s.db.WithContext(ctx), itemType, id, from, to, s.now().UTC())
}

func (s *SQLStore) BulkConditionalTransition(ctx context.Context, itemType models.ItemType, ids []string, from, to models.Status) ([]string, error) {
	applied := make([]string, 0, len(ids))
	now := s.now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			ok, err := conditionalUpdate(tx, itemType, id, from, to, now)
			if err != nil {
				return err
			}
			if ok {
				applied = append(applied, id)
			}
		}
		return nil
	})
	if err != nil {
		// the transaction rolled back, nothing was applied
		return []string{}, err
	}
	return applied, nil
}

func conditionalUpdate(db *gorm.DB, itemType models.ItemType, id string, from, to models.Status, now time.Time) (bool, error) {
	result := db.Model(&itemRecord{}).
		Where("item_type = ? AND id = ? AND status = ?", string(itemType), id, string(from)).
		Updates(map[string]interface{}{
			"status":     string(to),
			"updated_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("update item %s: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *SQLStore) Put(ctx context.Context, item *models.Item) error {
	record := recordFromModel(item, s.now().UTC())
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(record).Error
	if err != nil {
		return fmt.Errorf("save item %s: %w", item.ID, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
