package repository

import (
	"context"
	"sync"

	"lokamart/internal/domain/entity"
	"lokamart/internal/domain/repository"
	"lokamart/pkg/errors"
)

// In-memory user and product collaborators for tests and local runs.

type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*entity.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*entity.User)}
}

var _ repository.UserRepository = (*MemoryUserRepository)(nil)

func (r *MemoryUserRepository) Put(user *entity.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *user
	r.users[user.ID] = &stored
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, errors.NotFound("User", nil)
	}
	stored := *user
	return &stored, nil
}

type MemoryProductRepository struct {
	mu       sync.RWMutex
	products map[string]*entity.Product
}

func NewMemoryProductRepository() *MemoryProductRepository {
	return &MemoryProductRepository{products: make(map[string]*entity.Product)}
}

var _ repository.ProductRepository = (*MemoryProductRepository)(nil)

func (r *MemoryProductRepository) Put(product *entity.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *product
	r.products[product.ID] = &stored
}

func (r *MemoryProductRepository) GetByID(ctx context.Context, id string) (*entity.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return nil, errors.NotFound("Product", nil)
	}
	stored := *product
	return &stored, nil
}
