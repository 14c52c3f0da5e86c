// internal/models/item.go
package models

import "time"

// ItemType names the id namespace a redeemable item lives in
type ItemType string

const (
	ItemTypePhoto   ItemType = "photo"   // printed photo reservation
	ItemTypeGarment ItemType = "garment" // garment order
)

// Valid reports whether t is a known item type
func (t ItemType) Valid() bool {
	return t == ItemTypePhoto || t == ItemTypeGarment
}

// Item is a reservation or order record that can be picked up.
// SecondaryKey is only populated for garment orders.
type Item struct {
	ID           string    `json:"id" yaml:"id"`
	Type         ItemType  `json:"type" yaml:"type"`
	Status       Status    `json:"status" yaml:"status"`
	SecondaryKey string    `json:"secondary_key,omitempty" yaml:"secondary_key,omitempty"`
	OwnerID      string    `json:"owner_id" yaml:"owner_id"`
	OwnerName    string    `json:"owner_name,omitempty" yaml:"owner_name,omitempty"`
	Title        string    `json:"title,omitempty" yaml:"title,omitempty"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

// Clone returns a copy safe to hand out of a store
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
