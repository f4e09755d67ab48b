package repository

import (
	"context"
	"errors"

	"treasury/internal/model"

	"gorm.io/gorm"
)

// DirectoryRepository 只读访问公司、预算、用户三张外部表
type DirectoryRepository struct {
	db *gorm.DB
}

func NewDirectoryRepository(db *gorm.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

func (r *DirectoryRepository) CompanyExists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Company{}).
		Where("id = ?", id).
		Count(&count).Error
	return count > 0, err
}

// GetBudget 不存在时返回 nil, nil
func (r *DirectoryRepository) GetBudget(ctx context.Context, id int64) (*model.Budget, error) {
	var budget model.Budget
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&budget).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &budget, nil
}

// GetUser 不存在时返回 nil, nil
func (r *DirectoryRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
