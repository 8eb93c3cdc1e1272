package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"gorm.io/gorm"
)

type Brand struct {
	ID           int       `gorm:"primary_key" json:"id"`
	BusinessId   string    `gorm:"index;not null" json:"business_id"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	ExternalCode string    `gorm:"index;size:100" json:"external_code"`
	IsActive     *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBrand struct {
	Name         string `json:"name" binding:"required"`
	ExternalCode string `json:"external_code"`
}

// FindBrand resolves by external code first, then exact name.
// Returns (nil, nil) when nothing matches.
func FindBrand(ctx context.Context, externalCode, name string) (*Brand, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)

	var brand Brand
	if externalCode != "" {
		err = db.Where("business_id = ? AND external_code = ?", businessId, externalCode).
			Take(&brand).Error
		if err == nil {
			return &brand, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if name != "" {
		err = db.Where("business_id = ? AND name = ?", businessId, name).
			Take(&brand).Error
		if err == nil {
			return &brand, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func CreateBrand(ctx context.Context, input *NewBrand) (*Brand, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	brand := Brand{
		BusinessId:   businessId,
		Name:         input.Name,
		ExternalCode: input.ExternalCode,
		IsActive:     utils.NewTrue(),
	}
	if err := config.GetDB().WithContext(ctx).Create(&brand).Error; err != nil {
		return nil, err
	}
	return &brand, nil
}
