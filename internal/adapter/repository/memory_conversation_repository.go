package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lokamart/internal/domain/entity"
	"lokamart/internal/domain/repository"
	"lokamart/pkg/errors"
)

// MemoryConversationRepository keeps conversations and messages in process
// memory with the same contract as the Firestore implementation, including the
// create-conflict behavior. It backs tests and credential-less local runs.
type MemoryConversationRepository struct {
	mu       sync.RWMutex
	convs    map[string]*entity.Conversation
	messages map[string][]*entity.Message
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		convs:    make(map[string]*entity.Conversation),
		messages: make(map[string][]*entity.Message),
	}
}

var _ repository.ConversationRepository = (*MemoryConversationRepository)(nil)

func cloneConversation(conv *entity.Conversation) *entity.Conversation {
	c := *conv
	c.Participants = append([]string(nil), conv.Participants...)
	c.LastReadAt = make(map[string]time.Time, len(conv.LastReadAt))
	for k, v := range conv.LastReadAt {
		c.LastReadAt[k] = v
	}
	return &c
}

func (r *MemoryConversationRepository) Create(ctx context.Context, conv *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.convs[conv.ID]; exists {
		return errors.Conflict("Conversation already exists")
	}

	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if conv.LastReadAt == nil {
		conv.LastReadAt = make(map[string]time.Time)
	}
	r.convs[conv.ID] = cloneConversation(conv)

	return nil
}

func (r *MemoryConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.convs[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}

	return cloneConversation(conv), nil
}

func (r *MemoryConversationRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var convs []*entity.Conversation
	for _, conv := range r.convs {
		if conv.HasParticipant(userID) {
			convs = append(convs, cloneConversation(conv))
		}
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	total := int64(len(convs))

	if offset > len(convs) {
		offset = len(convs)
	}
	convs = convs[offset:]
	if limit > 0 && limit < len(convs) {
		convs = convs[:limit]
	}

	return convs, total, nil
}

func (r *MemoryConversationRepository) UpdatePreview(ctx context.Context, id, preview string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[id]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}

	conv.LastMessage = preview
	conv.UpdatedAt = at

	return nil
}

func (r *MemoryConversationRepository) SetLastReadAt(ctx context.Context, id, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[id]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}

	conv.LastReadAt[userID] = at

	return nil
}

func (r *MemoryConversationRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	message.CreatedAt = time.Now()

	// Keep createdAt strictly increasing per conversation so ordering and
	// unread counts never depend on clock resolution.
	log := r.messages[message.ConversationID]
	if n := len(log); n > 0 && !message.CreatedAt.After(log[n-1].CreatedAt) {
		message.CreatedAt = log[n-1].CreatedAt.Add(time.Microsecond)
	}

	stored := *message
	r.messages[message.ConversationID] = append(log, &stored)

	return nil
}

func (r *MemoryConversationRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.messages[conversationID]
	total := int64(len(log))

	if offset > len(log) {
		offset = len(log)
	}
	log = log[offset:]
	if limit > 0 && limit < len(log) {
		log = log[:limit]
	}

	messages := make([]*entity.Message, len(log))
	for i, m := range log {
		stored := *m
		messages[i] = &stored
	}

	return messages, total, nil
}

func (r *MemoryConversationRepository) CountMessagesFrom(ctx context.Context, conversationID, senderID string, after time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, m := range r.messages[conversationID] {
		if m.SenderID == senderID && m.CreatedAt.After(after) {
			count++
		}
	}

	return count, nil
}
