package studios

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository interface for studio operations
type Repository interface {
	Create(ctx context.Context, studio *Studio) error
	GetByID(ctx context.Context, id uuid.UUID) (*Studio, error)
	GetByName(ctx context.Context, name string) (*Studio, error)
	List(ctx context.Context) ([]Studio, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new studio repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, studio *Studio) error {
	return r.db.WithContext(ctx).Create(studio).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Studio, error) {
	var studio Studio
	err := r.db.WithContext(ctx).First(&studio, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &studio, nil
}

func (r *repository) GetByName(ctx context.Context, name string) (*Studio, error) {
	var studio Studio
	err := r.db.WithContext(ctx).First(&studio, "name = ?", name).Error
	if err != nil {
		return nil, err
	}
	return &studio, nil
}

func (r *repository) List(ctx context.Context) ([]Studio, error) {
	var list []Studio
	err := r.db.WithContext(ctx).Order("name ASC").Find(&list).Error
	return list, err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&Studio{}).Where("id = ?", id).Updates(updates).Error
}
