package repository

import (
	"context"
	"errors"

	storedomain "github.com/meterbill/meterbill/internal/store/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) storedomain.Repository {
	return &repo{db: db}
}

func (r *repo) FindByDomain(ctx context.Context, shopDomain string) (*storedomain.Store, error) {
	if shopDomain == "" {
		return nil, storedomain.ErrStoreNotFound
	}
	var store storedomain.Store
	err := r.db.WithContext(ctx).
		Where("shop_domain = ?", shopDomain).
		First(&store).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storedomain.ErrStoreNotFound
	}
	if err != nil {
		return nil, err
	}
	return &store, nil
}
