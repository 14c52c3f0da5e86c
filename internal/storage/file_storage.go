// internal/storage/file_storage.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
	"github.com/Corphon/PickupDesk/internal/models"
)

// FileStore persists one JSON file per item under BaseDir/items/<type>/<id>.json.
// The process owning BaseDir is the only writer.
type FileStore struct {
	BaseDir string

	// 并发控制
	fileLocks      sync.Map // path -> *sync.RWMutex
	namespaceLocks sync.Map // item type -> *sync.RWMutex

	now func() time.Time
}

// NewFileStore 创建文件存储服务
func NewFileStore(baseDir string) (*FileStore, error) {
	itemsDir := filepath.Join(baseDir, "items")
	if err := os.MkdirAll(itemsDir, 0755); err != nil {
		return nil, fmt.Errorf("create item directory: %w", err)
	}
	return &FileStore{BaseDir: baseDir, now: time.Now}, nil
}

func (fs *FileStore) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// getNamespaceLock is held shared by single-item writes and exclusively by bulk
// transitions, so a bulk result reflects one consistent view of the namespace.
func (fs *FileStore) getNamespaceLock(itemType models.ItemType) *sync.RWMutex {
	value, _ := fs.namespaceLocks.LoadOrStore(itemType, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (fs *FileStore) itemPath(itemType models.ItemType, id string) string {
	return filepath.Join(fs.BaseDir, "items", string(itemType), id+".json")
}

func (fs *FileStore) Get(ctx context.Context, itemType models.ItemType, id string) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !itemType.Valid() || !validID(id) {
		return nil, notFound(itemType, id)
	}
	path := fs.itemPath(itemType, id)

	lock := fs.getFileLock(path)
	lock.RLock()
	defer lock.RUnlock()

	return fs.readItem(itemType, id, path)
}

func (fs *FileStore) ConditionalTransition(ctx context.Context, itemType models.ItemType, id string, from, to models.Status) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !itemType.Valid() || !validID(id) {
		return false, nil
	}

	ns := fs.getNamespaceLock(itemType)
	ns.RLock()
	defer ns.RUnlock()

	return fs.swap(itemType, id, from, to)
}

func (fs *FileStore) BulkConditionalTransition(ctx context.Context, itemType models.ItemType, ids []string, from, to models.Status) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !itemType.Valid() {
		return []string{}, nil
	}

	ns := fs.getNamespaceLock(itemType)
	ns.Lock()
	defer ns.Unlock()

	applied := make([]string, 0, len(ids))
	for _, id := range ids {
		if !validID(id) {
			continue
		}
		ok, err := fs.swap(itemType, id, from, to)
		if err != nil {
			// items already swapped stay swapped; report them with the error
			return applied, err
		}
		if ok {
			applied = append(applied, id)
		}
	}
	return applied, nil
}

// swap is the compare-and-set on one file, under that file's write lock
func (fs *FileStore) swap(itemType models.ItemType, id string, from, to models.Status) (bool, error) {
	path := fs.itemPath(itemType, id)
	lock := fs.getFileLock(path)
	lock.Lock()
	defer lock.Unlock()

	item, err := fs.readItem(itemType, id, path)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	if item.Status != from {
		return false, nil
	}
	item.Status = to
	item.UpdatedAt = fs.now().UTC()
	if err := fs.writeItem(path, item); err != nil {
		return false, err
	}
	return true, nil
}

func (fs *FileStore) Put(ctx context.Context, item *models.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !item.Type.Valid() || !validID(item.ID) {
		return fmt.Errorf("invalid item key %s/%s", item.Type, item.ID)
	}

	ns := fs.getNamespaceLock(item.Type)
	ns.RLock()
	defer ns.RUnlock()

	path := fs.itemPath(item.Type, item.ID)
	lock := fs.getFileLock(path)
	lock.Lock()
	defer lock.Unlock()

	stored := item.Clone()
	stored.UpdatedAt = fs.now().UTC()
	return fs.writeItem(path, stored)
}

func (fs *FileStore) Close() error { return nil }

// readItem must be called with the file lock held. A missing file is NotFound.
func (fs *FileStore) readItem(itemType models.ItemType, id, path string) (*models.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(itemType, id)
		}
		return nil, fmt.Errorf("read item %s: %w", id, err)
	}
	var item models.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("parse item %s: %w", id, err)
	}
	return &item, nil
}

// writeItem replaces the file atomically; the file lock must be held
func (fs *FileStore) writeItem(path string, item *models.Item) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create item directory: %w", err)
	}
	content, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize item: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			log.Printf("Warning: failed to clean up temporary file %s after rename failure: %v", tempPath, removeErr)
		}
		return fmt.Errorf("replace item file: %w", err)
	}
	return nil
}
