package repository

import (
	"context"

	"lokamart/internal/domain/entity"
)

// ProductRepository is the catalog collaborator. The chat core reads it to
// resolve a product's seller; listing CRUD lives upstream.
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Product, error)
}
