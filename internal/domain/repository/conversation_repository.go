package repository

import (
	"context"
	"time"

	"lokamart/internal/domain/entity"
)

type ConversationRepository interface {
	// Create persists a new conversation. It fails with CONFLICT when a
	// conversation with the same ID already exists, which is how a concurrent
	// create-or-get race is detected.
	Create(ctx context.Context, conv *entity.Conversation) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	// ListByUserID returns the user's conversations ordered by updatedAt
	// descending (most recent activity first).
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error)
	// UpdatePreview bumps the denormalized last-message fields. Last write
	// wins; the preview is advisory, not a source of truth.
	UpdatePreview(ctx context.Context, id, preview string, at time.Time) error
	SetLastReadAt(ctx context.Context, id, userID string, at time.Time) error

	// Message methods
	CreateMessage(ctx context.Context, message *entity.Message) error
	// ListMessages returns messages ascending by createdAt.
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error)
	// CountMessagesFrom counts sender's messages strictly newer than after.
	// A zero after counts all of the sender's messages.
	CountMessagesFrom(ctx context.Context, conversationID, senderID string, after time.Time) (int, error)
}
