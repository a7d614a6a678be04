package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lokamart/internal/domain/entity"
	"lokamart/internal/domain/repository"
	"lokamart/pkg/errors"
	"lokamart/pkg/logger"
)

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

// storeError distinguishes transient store trouble (retryable for the caller)
// from everything else.
func storeError(message string, err error) *errors.AppError {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return errors.Unavailable(message, err)
	default:
		return errors.Internal(message, err)
	}
}

func (r *firestoreConversationRepository) Create(ctx context.Context, conv *entity.Conversation) error {
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if conv.LastReadAt == nil {
		conv.LastReadAt = make(map[string]time.Time)
	}

	// Create (not Set) so a concurrent creator of the same identity triple
	// loses with AlreadyExists instead of silently overwriting.
	_, err := r.client.Collection("conversations").Doc(conv.ID).Create(ctx, conv)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return errors.Conflict("Conversation already exists")
		}
		return storeError("Failed to create conversation", err)
	}

	return nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.client.Collection("conversations").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", nil)
		}
		return nil, storeError("Failed to get conversation", err)
	}

	var conv entity.Conversation
	if err := doc.DataTo(&conv); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}

	return &conv, nil
}

func (r *firestoreConversationRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	query := r.client.Collection("conversations").
		Where("participants", "array-contains", userID).
		OrderBy("updatedAt", firestore.Desc)

	allDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, 0, storeError("Failed to fetch conversations", err)
	}

	total := int64(len(allDocs))

	start := offset
	if start > len(allDocs) {
		start = len(allDocs)
	}
	end := len(allDocs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var convs []*entity.Conversation
	for i := start; i < end; i++ {
		var conv entity.Conversation
		if err := allDocs[i].DataTo(&conv); err != nil {
			logger.Warn("Skipping malformed conversation doc %s: %v", allDocs[i].Ref.ID, err)
			continue
		}
		convs = append(convs, &conv)
	}

	return convs, total, nil
}

func (r *firestoreConversationRepository) UpdatePreview(ctx context.Context, id, preview string, at time.Time) error {
	_, err := r.client.Collection("conversations").Doc(id).Update(ctx, []firestore.Update{
		{Path: "lastMessage", Value: preview},
		{Path: "updatedAt", Value: at},
	})
	if err != nil {
		return storeError("Failed to update conversation preview", err)
	}

	return nil
}

func (r *firestoreConversationRepository) SetLastReadAt(ctx context.Context, id, userID string, at time.Time) error {
	_, err := r.client.Collection("conversations").Doc(id).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"lastReadAt", userID}, Value: at},
	})
	if err != nil {
		return storeError("Failed to update read marker", err)
	}

	return nil
}

func (r *firestoreConversationRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	message.CreatedAt = time.Now()

	_, err := r.client.Collection("conversations").Doc(message.ConversationID).
		Collection("messages").Doc(message.ID).Create(ctx, message)
	if err != nil {
		return storeError("Failed to create message", err)
	}

	return nil
}

func (r *firestoreConversationRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	// Ascending by createdAt; Firestore tie-breaks on document ID.
	query := r.client.Collection("conversations").Doc(conversationID).
		Collection("messages").OrderBy("createdAt", firestore.Asc)

	countDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, 0, storeError("Failed to count messages", err)
	}
	total := int64(len(countDocs))

	if offset > 0 {
		query = query.Offset(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	var messages []*entity.Message

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, 0, storeError("Failed to iterate messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			return nil, 0, errors.Internal("Failed to parse message data", err)
		}

		messages = append(messages, &message)
	}

	return messages, total, nil
}

func (r *firestoreConversationRepository) CountMessagesFrom(ctx context.Context, conversationID, senderID string, after time.Time) (int, error) {
	query := r.client.Collection("conversations").Doc(conversationID).
		Collection("messages").Where("senderId", "==", senderID)
	if !after.IsZero() {
		query = query.Where("createdAt", ">", after)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return 0, storeError("Failed to count unread messages", err)
	}

	return len(docs), nil
}
