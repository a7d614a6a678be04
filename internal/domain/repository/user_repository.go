package repository

import (
	"context"

	"lokamart/internal/domain/entity"
)

// UserRepository is the identity collaborator consumed by the chat core.
// Account management lives upstream.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
}
