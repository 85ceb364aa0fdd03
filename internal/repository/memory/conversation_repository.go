package memory

import (
	"time"

	"muni-chatbot-be/pkg/store"

	"github.com/patrickmn/go-cache"
)

// ConversationRepository keeps live conversation state per visit. Entries
// expire after the configured idle TTL so abandoned widgets do not leak
// agent connections forever.
type ConversationRepository struct {
	cache *cache.Cache
}

func NewConversationRepository(ttl time.Duration) *ConversationRepository {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	c := cache.New(ttl, 10*time.Minute)
	c.OnEvicted(func(_ string, v interface{}) {
		if conv, ok := v.(*store.Conversation); ok && conv.Client != nil {
			conv.Client.Disconnect()
		}
	})
	return &ConversationRepository{cache: c}
}

func (r *ConversationRepository) Save(conv *store.Conversation) {
	r.cache.Set(conv.ID, conv, cache.DefaultExpiration)
}

func (r *ConversationRepository) Get(conversationID string) (*store.Conversation, bool) {
	if x, found := r.cache.Get(conversationID); found {
		return x.(*store.Conversation), true
	}
	return nil, false
}

// Touch renews the idle TTL on activity.
func (r *ConversationRepository) Touch(conversationID string) {
	if x, found := r.cache.Get(conversationID); found {
		r.cache.Set(conversationID, x, cache.DefaultExpiration)
	}
}

func (r *ConversationRepository) Delete(conversationID string) {
	r.cache.Delete(conversationID)
}
