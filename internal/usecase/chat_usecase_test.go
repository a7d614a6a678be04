package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lokamart/internal/adapter/repository"
	"lokamart/internal/domain/entity"
	"lokamart/internal/infrastructure/ratelimit"
	"lokamart/pkg/errors"
)

type capturedEvent struct {
	Target  string
	Exclude string
	Payload map[string]interface{}
}

type fakeNotifier struct {
	mu         sync.Mutex
	roomEvents []capturedEvent
	userEvents []capturedEvent
}

func (f *fakeNotifier) PublishToConversation(conversationID string, payload []byte, excludeUserID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomEvents = append(f.roomEvents, capturedEvent{
		Target:  conversationID,
		Exclude: excludeUserID,
		Payload: decodePayload(payload),
	})
}

func (f *fakeNotifier) PublishToUser(userID string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userEvents = append(f.userEvents, capturedEvent{
		Target:  userID,
		Payload: decodePayload(payload),
	})
}

func (f *fakeNotifier) userEventsOfType(eventType string) []capturedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []capturedEvent
	for _, ev := range f.userEvents {
		if ev.Payload["type"] == eventType {
			matched = append(matched, ev)
		}
	}
	return matched
}

func decodePayload(data []byte) map[string]interface{} {
	var payload map[string]interface{}
	_ = json.Unmarshal(data, &payload)
	return payload
}

type chatFixture struct {
	uc       *ChatUseCase
	convRepo *repository.MemoryConversationRepository
	notifier *fakeNotifier
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()

	convRepo := repository.NewMemoryConversationRepository()
	userRepo := repository.NewMemoryUserRepository()
	productRepo := repository.NewMemoryProductRepository()

	userRepo.Put(&entity.User{ID: "alice", Username: "alice", Email: "alice@example.com"})
	userRepo.Put(&entity.User{ID: "bob", Username: "bob", Email: "bob@example.com"})
	userRepo.Put(&entity.User{ID: "carol", Username: "carol", Email: "carol@example.com"})
	productRepo.Put(&entity.Product{ID: "prod-1", SellerID: "bob", Title: "Vintage camera", Price: 125})
	productRepo.Put(&entity.Product{ID: "prod-2", SellerID: "bob", Title: "Record player", Price: 80})

	notifier := &fakeNotifier{}

	return &chatFixture{
		uc:       NewChatUseCase(convRepo, userRepo, productRepo, notifier, nil),
		convRepo: convRepo,
		notifier: notifier,
	}
}

func TestGetOrCreateConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("creates on first contact", func(t *testing.T) {
		f := newChatFixture(t)

		detail, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
			ProductID:     "prod-1",
			CounterpartID: "bob",
		})
		require.NoError(t, err)

		assert.Equal(t, "prod-1_alice_bob", detail.ID)
		assert.Equal(t, []string{"alice", "bob"}, detail.Participants)
		assert.Equal(t, "bob", detail.OtherUser.ID)
		assert.Equal(t, "Vintage camera", detail.Product.Title)
		assert.Empty(t, detail.Messages)
		assert.Zero(t, detail.UnreadCount)
	})

	t.Run("repeated calls return the same conversation", func(t *testing.T) {
		f := newChatFixture(t)
		input := CreateConversationInput{ProductID: "prod-1", CounterpartID: "bob"}

		first, err := f.uc.GetOrCreateConversation(ctx, "alice", input)
		require.NoError(t, err)

		_, err = f.uc.SendMessage(ctx, "alice", SendMessageInput{
			ConversationID: first.ID,
			Text:           "Is this still available?",
		})
		require.NoError(t, err)

		second, err := f.uc.GetOrCreateConversation(ctx, "alice", input)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		require.Len(t, second.Messages, 1)
		assert.Equal(t, "Is this still available?", second.Messages[0].Text)
	})

	t.Run("resolution is symmetric in the pair", func(t *testing.T) {
		f := newChatFixture(t)

		fromBuyer, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
			ProductID:     "prod-1",
			CounterpartID: "bob",
		})
		require.NoError(t, err)

		fromSeller, err := f.uc.GetOrCreateConversation(ctx, "bob", CreateConversationInput{
			ProductID:     "prod-1",
			CounterpartID: "alice",
		})
		require.NoError(t, err)

		assert.Equal(t, fromBuyer.ID, fromSeller.ID)
	})

	t.Run("distinct products yield distinct conversations", func(t *testing.T) {
		f := newChatFixture(t)

		c1, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
			ProductID:     "prod-1",
			CounterpartID: "bob",
		})
		require.NoError(t, err)

		c2, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
			ProductID:     "prod-2",
			CounterpartID: "bob",
		})
		require.NoError(t, err)

		assert.NotEqual(t, c1.ID, c2.ID)
	})

	t.Run("rejects conversation with yourself", func(t *testing.T) {
		f := newChatFixture(t)

		_, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
			ProductID:     "prod-1",
			CounterpartID: "alice",
		})
		assert.True(t, errors.Is(err, "INVALID_PARTICIPANTS"))
	})

	t.Run("rejects a pair without the seller", func(t *testing.T) {
		f := newChatFixture(t)

		_, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
			ProductID:     "prod-1",
			CounterpartID: "carol",
		})
		assert.True(t, errors.Is(err, "INVALID_PARTICIPANTS"))
	})

	t.Run("unknown product or counterpart", func(t *testing.T) {
		f := newChatFixture(t)

		_, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
			ProductID:     "no-such-product",
			CounterpartID: "bob",
		})
		assert.True(t, errors.Is(err, "NOT_FOUND"))

		_, err = f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
			ProductID:     "prod-1",
			CounterpartID: "no-such-user",
		})
		assert.True(t, errors.Is(err, "NOT_FOUND"))
	})

	t.Run("concurrent first contact converges on one conversation", func(t *testing.T) {
		f := newChatFixture(t)

		const callers = 16
		ids := make([]string, callers)
		errs := make([]error, callers)

		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				requester, counterpart := "alice", "bob"
				if i%2 == 1 {
					requester, counterpart = "bob", "alice"
				}
				detail, err := f.uc.GetOrCreateConversation(ctx, requester, CreateConversationInput{
					ProductID:     "prod-1",
					CounterpartID: counterpart,
				})
				if err != nil {
					errs[i] = err
					return
				}
				ids[i] = detail.ID
			}(i)
		}
		wg.Wait()

		for i := 0; i < callers; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}

		_, total, err := f.convRepo.ListByUserID(ctx, "alice", 0, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
	})
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*chatFixture, string) {
		f := newChatFixture(t)
		detail, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
			ProductID:     "prod-1",
			CounterpartID: "bob",
		})
		require.NoError(t, err)
		return f, detail.ID
	}

	t.Run("appends in send order with server timestamps", func(t *testing.T) {
		f, convID := setup(t)

		before := time.Now()
		m1, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: convID, Text: "first"})
		require.NoError(t, err)
		m2, err := f.uc.SendMessage(ctx, "bob", SendMessageInput{ConversationID: convID, Text: "second"})
		require.NoError(t, err)

		assert.False(t, m1.CreatedAt.Before(before))
		assert.True(t, m2.CreatedAt.After(m1.CreatedAt))

		messages, total, err := f.uc.ListMessages(ctx, "alice", convID, 0, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 2, total)
		require.Len(t, messages, 2)
		assert.Equal(t, "first", messages[0].Text)
		assert.Equal(t, "second", messages[1].Text)

		conv, err := f.convRepo.GetByID(ctx, convID)
		require.NoError(t, err)
		assert.Equal(t, "second", conv.LastMessage)
		assert.Equal(t, m2.CreatedAt, conv.UpdatedAt)
	})

	t.Run("rejects empty and whitespace-only text", func(t *testing.T) {
		f, convID := setup(t)

		for _, text := range []string{"", "   ", "\n\t"} {
			_, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: convID, Text: text})
			assert.True(t, errors.Is(err, "VALIDATION_ERROR"))
		}

		messages, _, err := f.uc.ListMessages(ctx, "alice", convID, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, messages)

		conv, err := f.convRepo.GetByID(ctx, convID)
		require.NoError(t, err)
		assert.Empty(t, conv.LastMessage)
	})

	t.Run("enforces the length limit in runes", func(t *testing.T) {
		f, convID := setup(t)

		_, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{
			ConversationID: convID,
			Text:           strings.Repeat("ä", maxMessageLength),
		})
		assert.NoError(t, err)

		_, err = f.uc.SendMessage(ctx, "alice", SendMessageInput{
			ConversationID: convID,
			Text:           strings.Repeat("a", maxMessageLength+1),
		})
		assert.True(t, errors.Is(err, "VALIDATION_ERROR"))
	})

	t.Run("non-participants are rejected", func(t *testing.T) {
		f, convID := setup(t)

		_, err := f.uc.SendMessage(ctx, "carol", SendMessageInput{ConversationID: convID, Text: "hi"})
		assert.True(t, errors.Is(err, "FORBIDDEN"))
	})

	t.Run("unknown conversation", func(t *testing.T) {
		f, _ := setup(t)

		_, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: "missing", Text: "hi"})
		assert.True(t, errors.Is(err, "NOT_FOUND"))
	})

	t.Run("notifies the room and the counterpart", func(t *testing.T) {
		f, convID := setup(t)

		_, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: convID, Text: "ping"})
		require.NoError(t, err)

		require.Len(t, f.notifier.roomEvents, 1)
		assert.Equal(t, convID, f.notifier.roomEvents[0].Target)
		assert.Equal(t, "alice", f.notifier.roomEvents[0].Exclude)
		assert.Equal(t, "new_message", f.notifier.roomEvents[0].Payload["type"])

		updates := f.notifier.userEventsOfType("conversation_update")
		require.Len(t, updates, 1)
		assert.Equal(t, "bob", updates[0].Target)
		assert.Equal(t, "ping", updates[0].Payload["last_message"])
	})
}

func TestUnreadAndMarkRead(t *testing.T) {
	ctx := context.Background()

	f := newChatFixture(t)
	detail, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
		ProductID:     "prod-1",
		CounterpartID: "bob",
	})
	require.NoError(t, err)
	convID := detail.ID

	send := func(sender, text string) {
		_, err := f.uc.SendMessage(ctx, sender, SendMessageInput{ConversationID: convID, Text: text})
		require.NoError(t, err)
	}

	unread := func(userID string) int {
		summary, err := f.uc.GetConversationByID(ctx, userID, convID)
		require.NoError(t, err)
		return summary.UnreadCount
	}

	send("bob", "one")
	send("bob", "two")
	send("bob", "three")

	assert.Equal(t, 3, unread("alice"))
	assert.Equal(t, 0, unread("bob"), "own messages never count as unread")

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, f.uc.MarkRead(ctx, "alice", convID))
	assert.Equal(t, 0, unread("alice"))

	// Marking read again with nothing new changes nothing.
	require.NoError(t, f.uc.MarkRead(ctx, "alice", convID))
	assert.Equal(t, 0, unread("alice"))

	time.Sleep(5 * time.Millisecond)
	send("bob", "four")
	send("bob", "five")
	assert.Equal(t, 2, unread("alice"))

	// Alice replying does not touch her own counter.
	send("alice", "got it")
	assert.Equal(t, 2, unread("alice"))
	assert.Equal(t, 1, unread("bob"))
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()

	f := newChatFixture(t)
	detail, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
		ProductID:     "prod-1",
		CounterpartID: "bob",
	})
	require.NoError(t, err)

	t.Run("non-participant", func(t *testing.T) {
		err := f.uc.MarkRead(ctx, "carol", detail.ID)
		assert.True(t, errors.Is(err, "FORBIDDEN"))
	})

	t.Run("unknown conversation", func(t *testing.T) {
		err := f.uc.MarkRead(ctx, "alice", "missing")
		assert.True(t, errors.Is(err, "NOT_FOUND"))
	})
}

func TestListConversations(t *testing.T) {
	ctx := context.Background()

	f := newChatFixture(t)

	c1, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
		ProductID:     "prod-1",
		CounterpartID: "bob",
	})
	require.NoError(t, err)

	c2, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
		ProductID:     "prod-2",
		CounterpartID: "bob",
	})
	require.NoError(t, err)

	// Activity in the older conversation moves it back to the top.
	time.Sleep(2 * time.Millisecond)
	_, err = f.uc.SendMessage(ctx, "bob", SendMessageInput{ConversationID: c1.ID, Text: "still there?"})
	require.NoError(t, err)

	summaries, total, err := f.uc.ListConversations(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, summaries, 2)

	assert.Equal(t, c1.ID, summaries[0].ID)
	assert.Equal(t, c2.ID, summaries[1].ID)
	assert.Equal(t, "still there?", summaries[0].LastMessage)
	assert.Equal(t, 1, summaries[0].UnreadCount)
	assert.Equal(t, 0, summaries[1].UnreadCount)
	assert.Equal(t, "bob", summaries[0].OtherUser.ID)
	assert.Equal(t, "Vintage camera", summaries[0].Product.Title)

	// Carol has no conversations at all.
	summaries, total, err = f.uc.ListConversations(ctx, "carol", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, summaries)
}

func TestListMessagesAuthorization(t *testing.T) {
	ctx := context.Background()

	f := newChatFixture(t)
	detail, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
		ProductID:     "prod-1",
		CounterpartID: "bob",
	})
	require.NoError(t, err)

	_, _, err = f.uc.ListMessages(ctx, "carol", detail.ID, 0, 0)
	assert.True(t, errors.Is(err, "FORBIDDEN"))

	_, _, err = f.uc.ListMessages(ctx, "alice", "missing", 0, 0)
	assert.True(t, errors.Is(err, "NOT_FOUND"))
}

func TestGetConversationByProduct(t *testing.T) {
	ctx := context.Background()

	f := newChatFixture(t)

	_, err := f.uc.GetConversationByProduct(ctx, "alice", "prod-1")
	assert.True(t, errors.Is(err, "NOT_FOUND"), "no conversation yet")

	created, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
		ProductID:     "prod-1",
		CounterpartID: "bob",
	})
	require.NoError(t, err)

	found, err := f.uc.GetConversationByProduct(ctx, "alice", "prod-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = f.uc.GetConversationByProduct(ctx, "bob", "prod-1")
	assert.True(t, errors.Is(err, "INVALID_PARTICIPANTS"), "seller side is ambiguous")
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()

	f := newChatFixture(t)
	detail, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
		ProductID:     "prod-1",
		CounterpartID: "bob",
	})
	require.NoError(t, err)

	assert.NoError(t, f.uc.Authorize(ctx, "alice", detail.ID))
	assert.NoError(t, f.uc.Authorize(ctx, "bob", detail.ID))
	assert.True(t, errors.Is(f.uc.Authorize(ctx, "carol", detail.ID), "FORBIDDEN"))
	assert.True(t, errors.Is(f.uc.Authorize(ctx, "alice", "missing"), "NOT_FOUND"))
}

func TestHandleTyping(t *testing.T) {
	ctx := context.Background()

	f := newChatFixture(t)
	detail, err := f.uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
		ProductID:     "prod-1",
		CounterpartID: "bob",
	})
	require.NoError(t, err)

	f.uc.HandleTyping(ctx, "alice", detail.ID, true)

	require.Len(t, f.notifier.roomEvents, 1)
	ev := f.notifier.roomEvents[0]
	assert.Equal(t, detail.ID, ev.Target)
	assert.Equal(t, "alice", ev.Exclude)
	assert.Equal(t, "typing_indicator", ev.Payload["type"])
	assert.Equal(t, true, ev.Payload["is_typing"])

	// Outsiders and unknown conversations are ignored silently.
	f.uc.HandleTyping(ctx, "carol", detail.ID, true)
	f.uc.HandleTyping(ctx, "alice", "missing", true)
	assert.Len(t, f.notifier.roomEvents, 1)
}

func TestRateLimiting(t *testing.T) {
	ctx := context.Background()

	convRepo := repository.NewMemoryConversationRepository()
	userRepo := repository.NewMemoryUserRepository()
	productRepo := repository.NewMemoryProductRepository()
	userRepo.Put(&entity.User{ID: "alice", Username: "alice"})
	userRepo.Put(&entity.User{ID: "bob", Username: "bob"})
	for i := 0; i < 15; i++ {
		productRepo.Put(&entity.Product{ID: "prod-" + string(rune('a'+i)), SellerID: "bob", Title: "Item"})
	}

	uc := NewChatUseCase(convRepo, userRepo, productRepo, nil, ratelimit.NewRateLimiter())

	var limited bool
	for i := 0; i < 15; i++ {
		_, err := uc.GetOrCreateConversation(ctx, "alice", CreateConversationInput{
			ProductID:     "prod-" + string(rune('a'+i)),
			CounterpartID: "bob",
		})
		if errors.Is(err, "TOO_MANY_REQUESTS") {
			limited = true
			break
		}
		require.NoError(t, err)
	}

	assert.True(t, limited, "burst past the bucket size must be rejected")
}
