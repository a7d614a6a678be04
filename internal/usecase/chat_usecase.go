package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"lokamart/internal/domain/entity"
	"lokamart/internal/domain/repository"
	"lokamart/internal/infrastructure/ratelimit"
	"lokamart/pkg/errors"
	"lokamart/pkg/logger"
)

const maxMessageLength = 2000

// Notifier is the best-effort push channel. It is purely a latency
// optimization over polling: every operation stays correct when delivery
// fails or no notifier is wired at all.
type Notifier interface {
	PublishToConversation(conversationID string, payload []byte, excludeUserID string)
	PublishToUser(userID string, payload []byte)
}

type ChatUseCase struct {
	convRepo    repository.ConversationRepository
	userRepo    repository.UserRepository
	productRepo repository.ProductRepository
	notifier    Notifier
	limiter     *ratelimit.RateLimiter
}

func NewChatUseCase(
	convRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
	notifier Notifier,
	limiter *ratelimit.RateLimiter,
) *ChatUseCase {
	return &ChatUseCase{
		convRepo:    convRepo,
		userRepo:    userRepo,
		productRepo: productRepo,
		notifier:    notifier,
		limiter:     limiter,
	}
}

type CreateConversationInput struct {
	ProductID     string
	CounterpartID string
}

type SendMessageInput struct {
	ConversationID string
	Text           string
}

type ConversationSummary struct {
	*entity.Conversation
	Product     *entity.Product `json:"product,omitempty"`
	OtherUser   *entity.User    `json:"other_user,omitempty"`
	UnreadCount int             `json:"unread_count"`
}

type ConversationDetail struct {
	ConversationSummary
	Messages []*entity.Message `json:"messages"`
}

type MessageResponse struct {
	*entity.Message
	Sender *entity.User `json:"sender,omitempty"`
}

// GetOrCreateConversation resolves the (product, pair) triple to its single
// conversation, creating it when absent. Safe under concurrent first contact
// from both parties: a lost creation race is recovered by re-fetching the
// winner's record.
func (uc *ChatUseCase) GetOrCreateConversation(ctx context.Context, userID string, input CreateConversationInput) (*ConversationDetail, error) {
	if allowed, _ := uc.allow(userID, ratelimit.ActionCreateConversation); !allowed {
		return nil, errors.TooManyRequests("Too many new conversations, please wait")
	}

	if userID == input.CounterpartID {
		return nil, errors.InvalidParticipants("You cannot start a conversation with yourself")
	}

	product, err := uc.productRepo.GetByID(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}

	counterpart, err := uc.userRepo.GetByID(ctx, input.CounterpartID)
	if err != nil {
		return nil, err
	}

	if product.SellerID != userID && product.SellerID != input.CounterpartID {
		return nil, errors.InvalidParticipants("A product conversation must include the product's seller")
	}

	pair := entity.CanonicalPair(userID, input.CounterpartID)
	convID := entity.ConversationKey(product.ID, pair)

	conv, err := uc.convRepo.GetByID(ctx, convID)
	if err != nil {
		if !errors.Is(err, "NOT_FOUND") {
			return nil, err
		}

		newConv := &entity.Conversation{
			ID:           convID,
			ProductID:    product.ID,
			Participants: pair,
			LastReadAt:   make(map[string]time.Time),
		}

		if createErr := uc.convRepo.Create(ctx, newConv); createErr != nil {
			if !errors.Is(createErr, "CONFLICT") {
				return nil, createErr
			}
			// A concurrent creator won the race; their record is the one.
			conv, err = uc.convRepo.GetByID(ctx, convID)
			if err != nil {
				return nil, err
			}
		} else {
			conv = newConv
		}
	}

	messages, _, err := uc.convRepo.ListMessages(ctx, conv.ID, 0, 0)
	if err != nil {
		return nil, err
	}

	return &ConversationDetail{
		ConversationSummary: ConversationSummary{
			Conversation: conv,
			Product:      product,
			OtherUser:    counterpart,
			UnreadCount:  uc.unreadCount(ctx, conv, userID),
		},
		Messages: messages,
	}, nil
}

// SendMessage appends to the conversation's log. The message is durable when
// this returns; the preview update and push delivery after it are advisory.
func (uc *ChatUseCase) SendMessage(ctx context.Context, userID string, input SendMessageInput) (*MessageResponse, error) {
	if allowed, _ := uc.allow(userID, ratelimit.ActionSendMessage); !allowed {
		uc.publishToUser(userID, map[string]interface{}{
			"type":    "rate_limit_exceeded",
			"message": "You are sending messages too quickly. Please slow down.",
		})
		return nil, errors.TooManyRequests("Too many messages, please slow down")
	}

	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, errors.Validation("Message text must not be empty")
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return nil, errors.Validation("Message text is too long")
	}

	conv, err := uc.convRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}

	if !conv.HasParticipant(userID) {
		return nil, errors.Forbidden("You are not a participant in this conversation", nil)
	}

	sender, err := uc.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	message := &entity.Message{
		ConversationID: conv.ID,
		SenderID:       userID,
		Text:           text,
	}

	if err := uc.convRepo.CreateMessage(ctx, message); err != nil {
		return nil, err
	}

	// Preview is advisory; a lost update here never loses the message itself.
	if err := uc.convRepo.UpdatePreview(ctx, conv.ID, text, message.CreatedAt); err != nil {
		logger.Warn("Failed to update preview for conversation %s: %v", conv.ID, err)
	}

	uc.publishToConversation(conv.ID, userID, map[string]interface{}{
		"type":            "new_message",
		"conversation_id": conv.ID,
		"message":         message,
		"sender":          sender,
	})

	// Directory update for participants who are not in the room.
	for _, participantID := range conv.Participants {
		if participantID != userID {
			uc.publishToUser(participantID, map[string]interface{}{
				"type":            "conversation_update",
				"conversation_id": conv.ID,
				"last_message":    message.Text,
				"sender_id":       userID,
				"sender_name":     sender.Username,
				"created_at":      message.CreatedAt.Format(time.RFC3339),
			})
		}
	}

	return &MessageResponse{
		Message: message,
		Sender:  sender,
	}, nil
}

// ListMessages returns the conversation's log ascending by createdAt.
func (uc *ChatUseCase) ListMessages(ctx context.Context, userID, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, 0, err
	}

	if !conv.HasParticipant(userID) {
		return nil, 0, errors.Forbidden("You are not a participant in this conversation", nil)
	}

	return uc.convRepo.ListMessages(ctx, conversationID, limit, offset)
}

// ListConversations builds the user's directory, most recent activity first.
// Unread counts are computed against the read marker at read time, never
// stored.
func (uc *ChatUseCase) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, int64, error) {
	convs, total, err := uc.convRepo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]*ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, uc.buildSummary(ctx, conv, userID))
	}

	return summaries, total, nil
}

func (uc *ChatUseCase) GetConversationByID(ctx context.Context, userID, conversationID string) (*ConversationSummary, error) {
	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if !conv.HasParticipant(userID) {
		return nil, errors.Forbidden("You are not a participant in this conversation", nil)
	}

	return uc.buildSummary(ctx, conv, userID), nil
}

// GetConversationByProduct finds the requester's conversation with the
// product's seller, without creating one.
func (uc *ChatUseCase) GetConversationByProduct(ctx context.Context, userID, productID string) (*ConversationDetail, error) {
	product, err := uc.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	if product.SellerID == userID {
		return nil, errors.InvalidParticipants("Sellers have one conversation per buyer; list conversations instead")
	}

	pair := entity.CanonicalPair(userID, product.SellerID)
	conv, err := uc.convRepo.GetByID(ctx, entity.ConversationKey(product.ID, pair))
	if err != nil {
		return nil, err
	}

	messages, _, err := uc.convRepo.ListMessages(ctx, conv.ID, 0, 0)
	if err != nil {
		return nil, err
	}

	summary := uc.buildSummary(ctx, conv, userID)
	summary.Product = product

	return &ConversationDetail{
		ConversationSummary: *summary,
		Messages:            messages,
	}, nil
}

// MarkRead advances the user's read marker to now. Idempotent: repeated calls
// with no new messages change nothing observable.
func (uc *ChatUseCase) MarkRead(ctx context.Context, userID, conversationID string) error {
	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}

	if !conv.HasParticipant(userID) {
		return errors.Forbidden("You are not a participant in this conversation", nil)
	}

	return uc.convRepo.SetLastReadAt(ctx, conversationID, userID, time.Now())
}

// Authorize gates notifier room joins to participants.
func (uc *ChatUseCase) Authorize(ctx context.Context, userID, conversationID string) error {
	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}

	if !conv.HasParticipant(userID) {
		return errors.Forbidden("You are not a participant in this conversation", nil)
	}

	return nil
}

// HandleTyping fans a typing indicator out to the counterpart. Best-effort:
// all failures are swallowed.
func (uc *ChatUseCase) HandleTyping(ctx context.Context, userID, conversationID string, isTyping bool) {
	if conversationID == "" {
		return
	}
	if allowed, _ := uc.allow(userID, ratelimit.ActionTyping); !allowed {
		return
	}

	conv, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		logger.Debug("Typing event for unknown conversation %s: %v", conversationID, err)
		return
	}
	if !conv.HasParticipant(userID) {
		return
	}

	uc.publishToConversation(conversationID, userID, map[string]interface{}{
		"type":            "typing_indicator",
		"conversation_id": conversationID,
		"user_id":         userID,
		"is_typing":       isTyping,
	})
}

func (uc *ChatUseCase) buildSummary(ctx context.Context, conv *entity.Conversation, userID string) *ConversationSummary {
	summary := &ConversationSummary{
		Conversation: conv,
		UnreadCount:  uc.unreadCount(ctx, conv, userID),
	}

	// Tolerate dangling references: a conversation outlives its product, and
	// a missing counterpart profile must not break the directory.
	if conv.ProductID != "" {
		if product, err := uc.productRepo.GetByID(ctx, conv.ProductID); err == nil {
			summary.Product = product
		} else {
			logger.Warn("Product %s not found for conversation %s: %v", conv.ProductID, conv.ID, err)
		}
	}

	if counterpartID := conv.Counterpart(userID); counterpartID != "" {
		if counterpart, err := uc.userRepo.GetByID(ctx, counterpartID); err == nil {
			summary.OtherUser = counterpart
		} else {
			logger.Warn("Counterpart %s not found for conversation %s: %v", counterpartID, conv.ID, err)
		}
	}

	return summary
}

func (uc *ChatUseCase) unreadCount(ctx context.Context, conv *entity.Conversation, userID string) int {
	counterpartID := conv.Counterpart(userID)
	if counterpartID == "" {
		return 0
	}

	// In a two-party conversation "not mine" equals "the counterpart's",
	// and a never-set marker (zero time) counts everything of theirs.
	count, err := uc.convRepo.CountMessagesFrom(ctx, conv.ID, counterpartID, conv.LastReadAt[userID])
	if err != nil {
		logger.Warn("Failed to count unread for conversation %s: %v", conv.ID, err)
		return 0
	}

	return count
}

func (uc *ChatUseCase) allow(userID, action string) (bool, time.Duration) {
	if uc.limiter == nil {
		return true, 0
	}
	return uc.limiter.Allow(userID, action)
}

func (uc *ChatUseCase) publishToConversation(conversationID, excludeUserID string, payload map[string]interface{}) {
	if uc.notifier == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("Failed to marshal notification for conversation %s: %v", conversationID, err)
		return
	}
	uc.notifier.PublishToConversation(conversationID, data, excludeUserID)
}

func (uc *ChatUseCase) publishToUser(userID string, payload map[string]interface{}) {
	if uc.notifier == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("Failed to marshal notification for user %s: %v", userID, err)
		return
	}
	uc.notifier.PublishToUser(userID, data)
}
