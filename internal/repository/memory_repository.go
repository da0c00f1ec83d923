package repository

import (
	"context"
	"sort"
	"sync"

	"ngmc-chatbot-go/internal/model"
)

// NewMemoryStore builds a Store that keeps everything in process. It backs local runs
// without a database and the handler tests.
func NewMemoryStore() *Store {
	m := &memoryStore{
		users:     make(map[string]model.User),
		userEmail: make(map[string]string),
		chats:     make(map[string]model.Chat),
		turns:     make(map[string][]model.Conversation),
	}
	return &Store{
		Users:         &memoryUserRepository{m},
		Chats:         &memoryChatRepository{m},
		Conversations: &memoryConversationRepository{m},
	}
}

type memoryStore struct {
	mu        sync.RWMutex
	users     map[string]model.User
	userEmail map[string]string // email -> user ID
	chats     map[string]model.Chat
	chatOrder []string
	turns     map[string][]model.Conversation // chat ID -> turns in insertion order
	allTurns  []model.Conversation
}

type memoryUserRepository struct{ m *memoryStore }

func (r *memoryUserRepository) Create(_ context.Context, user *model.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.userEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}
	stampUser(user, newID)
	r.m.users[user.ID] = *user
	r.m.userEmail[user.Email] = user.ID
	return nil
}

func (r *memoryUserRepository) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	id, ok := r.m.userEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	u := r.m.users[id]
	return &u, nil
}

func (r *memoryUserRepository) FindByID(_ context.Context, id string) (*model.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

type memoryChatRepository struct{ m *memoryStore }

func (r *memoryChatRepository) Create(_ context.Context, chat *model.Chat) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stampChat(chat, newID)
	r.m.chats[chat.ID] = copyChat(*chat)
	r.m.chatOrder = append(r.m.chatOrder, chat.ID)
	return nil
}

func (r *memoryChatRepository) FindByID(_ context.Context, id string) (*model.Chat, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	c, ok := r.m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	c = copyChat(c)
	return &c, nil
}

func (r *memoryChatRepository) FindAll(_ context.Context) ([]model.Chat, error) {
	return r.filter(func(model.Chat) bool { return true }), nil
}

func (r *memoryChatRepository) FindByUser(_ context.Context, userID string) ([]model.Chat, error) {
	return r.filter(func(c model.Chat) bool { return c.UserID != nil && *c.UserID == userID }), nil
}

// filter walks chats newest first.
func (r *memoryChatRepository) filter(keep func(model.Chat) bool) []model.Chat {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	res := make([]model.Chat, 0, len(r.m.chatOrder))
	for i := len(r.m.chatOrder) - 1; i >= 0; i-- {
		c := r.m.chats[r.m.chatOrder[i]]
		if keep(c) {
			res = append(res, copyChat(c))
		}
	}
	return res
}

func (r *memoryChatRepository) AssignOwner(_ context.Context, chatID, userID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.chats[chatID]
	if !ok || c.UserID != nil {
		return false, nil
	}
	owner := userID
	c.UserID = &owner
	r.m.chats[chatID] = c
	return true, nil
}

func copyChat(c model.Chat) model.Chat {
	if c.UserID != nil {
		owner := *c.UserID
		c.UserID = &owner
	}
	return c
}

type memoryConversationRepository struct{ m *memoryStore }

func (r *memoryConversationRepository) CreateMany(_ context.Context, turns []*model.Conversation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, t := range turns {
		stampConversation(t, newID)
		r.m.turns[t.ChatID] = append(r.m.turns[t.ChatID], *t)
		r.m.allTurns = append(r.m.allTurns, *t)
	}
	return nil
}

func (r *memoryConversationRepository) FindByChat(_ context.Context, chatID string) ([]model.Conversation, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	res := append([]model.Conversation{}, r.m.turns[chatID]...)
	sortChronological(res)
	return res, nil
}

func (r *memoryConversationRepository) FindLastByChat(_ context.Context, chatID string, n int) ([]model.Conversation, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return lastN(r.m.turns[chatID], n), nil
}

func (r *memoryConversationRepository) FindRecent(_ context.Context, n int) ([]model.Conversation, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return lastN(r.m.allTurns, n), nil
}

// lastN returns at most n turns newest first.
func lastN(turns []model.Conversation, n int) []model.Conversation {
	sorted := append([]model.Conversation{}, turns...)
	sortChronological(sorted)
	res := make([]model.Conversation, 0, n)
	for i := len(sorted) - 1; i >= 0 && len(res) < n; i-- {
		res = append(res, sorted[i])
	}
	return res
}

func sortChronological(turns []model.Conversation) {
	sort.SliceStable(turns, func(i, j int) bool {
		if !turns[i].CreatedAt.Equal(turns[j].CreatedAt) {
			return turns[i].CreatedAt.Before(turns[j].CreatedAt)
		}
		return turns[i].ID < turns[j].ID
	})
}
