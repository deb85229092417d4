// Package domain contains the merchant store record this subsystem reads
// but never owns: billing engines only need the offline access credential.
package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
)

// Store is one merchant tenant, identified by its shop domain.
type Store struct {
	ShopDomain  string            `gorm:"primaryKey;type:text"`
	AccessToken string            `gorm:"type:text;not null"`
	Name        string            `gorm:"type:text"`
	Active      bool              `gorm:"not null;default:true"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Store) TableName() string { return "stores" }

var ErrStoreNotFound = errors.New("store_not_found")

// Repository is a read-only lookup for store credentials.
type Repository interface {
	FindByDomain(ctx context.Context, shopDomain string) (*Store, error)
}
