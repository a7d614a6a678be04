package entity

import (
	"sort"
	"strings"
	"time"
)

// Conversation is the product-scoped thread between exactly two users.
// Participants are stored in canonical (sorted) order so the same pair never
// resolves to two different conversations.
type Conversation struct {
	ID           string               `json:"id" firestore:"id"`
	ProductID    string               `json:"product_id" firestore:"productId"`
	Participants []string             `json:"participants" firestore:"participants"`
	LastMessage  string               `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastReadAt   map[string]time.Time `json:"last_read_at" firestore:"lastReadAt"`
	CreatedAt    time.Time            `json:"created_at" firestore:"createdAt"`
	UpdatedAt    time.Time            `json:"updated_at" firestore:"updatedAt"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the other participant, or "" if userID is not one.
func (c *Conversation) Counterpart(userID string) string {
	if !c.HasParticipant(userID) {
		return ""
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// CanonicalPair sorts two user IDs lexicographically so (a, b) and (b, a)
// resolve to the same conversation identity.
func CanonicalPair(a, b string) []string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair
}

// Underscores inside a component are escaped before joining, so two distinct
// identity triples can never collide on one document ID even when product or
// user IDs contain the separator themselves.
var keyPartEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// ConversationKey derives the conversation document ID from its identity
// triple. Deterministic IDs let the store enforce at-most-one conversation per
// (product, pair) through a create precondition.
func ConversationKey(productID string, pair []string) string {
	return keyPartEscaper.Replace(productID) + "_" + keyPartEscaper.Replace(pair[0]) + "_" + keyPartEscaper.Replace(pair[1])
}
