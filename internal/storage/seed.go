// internal/storage/seed.go
package storage

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Corphon/PickupDesk/internal/models"
)

// SeedFile is the on-disk shape of a seed document:
//
//	items:
//	  - id: P-100
//	    type: photo
//	    status: confirmed
type SeedFile struct {
	Items []models.Item `yaml:"items"`
}

// ParseSeed decodes a seed document
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &seed, nil
}

// LoadSeed reads path and puts every item into store. Wrap the store with
// Guarded to have each entry validated. Returns how many items were written.
func LoadSeed(ctx context.Context, store ItemStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}

	for i := range seed.Items {
		item := &seed.Items[i]
		if err := store.Put(ctx, item); err != nil {
			return i, fmt.Errorf("seed item %d (%s): %w", i, item.ID, err)
		}
	}
	return len(seed.Items), nil
}
