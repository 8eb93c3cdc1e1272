package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"gorm.io/gorm"
)

type ProductCategory struct {
	ID           int       `gorm:"primary_key" json:"id"`
	BusinessId   string    `gorm:"index;not null" json:"business_id"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	ExternalCode string    `gorm:"index;size:100" json:"external_code"`
	ParentId     int       `gorm:"index;default:0" json:"parent_id"`
	IsActive     *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductCategory struct {
	Name         string `json:"name" binding:"required"`
	ExternalCode string `json:"external_code"`
	ParentId     int    `json:"parent_id"`
}

// FindProductCategory resolves by external code first, then exact name.
// Returns (nil, nil) when nothing matches.
func FindProductCategory(ctx context.Context, externalCode, name string) (*ProductCategory, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)

	var category ProductCategory
	if externalCode != "" {
		err = db.Where("business_id = ? AND external_code = ?", businessId, externalCode).
			Take(&category).Error
		if err == nil {
			return &category, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if name != "" {
		err = db.Where("business_id = ? AND name = ?", businessId, name).
			Take(&category).Error
		if err == nil {
			return &category, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func CreateProductCategory(ctx context.Context, input *NewProductCategory) (*ProductCategory, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	category := ProductCategory{
		BusinessId:   businessId,
		Name:         input.Name,
		ExternalCode: input.ExternalCode,
		ParentId:     input.ParentId,
		IsActive:     utils.NewTrue(),
	}
	if err := config.GetDB().WithContext(ctx).Create(&category).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

func UpdateProductCategory(ctx context.Context, id int, input *NewProductCategory) (*ProductCategory, error) {
	businessId, err := businessIdFromContext(ctx)
	if err != nil {
		return nil, err
	}
	result := config.GetDB().WithContext(ctx).
		Model(&ProductCategory{}).
		Where("id = ? AND business_id = ?", id, businessId).
		Updates(map[string]interface{}{
			"name":          input.Name,
			"external_code": input.ExternalCode,
			"parent_id":     input.ParentId,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, utils.ErrorRecordNotFound
	}

	var category ProductCategory
	if err := config.GetDB().WithContext(ctx).
		Where("id = ? AND business_id = ?", id, businessId).
		Take(&category).Error; err != nil {
		return nil, err
	}
	return &category, nil
}
