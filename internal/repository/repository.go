// Package repository provides the persistence layer for users, chats and conversation turns.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"ngmc-chatbot-go/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no record. Malformed ids map here too.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when a user with the same email already exists.
	ErrDuplicateEmail = errors.New("email already registered")
)

// UserRepository persists users.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// ChatRepository persists chats.
type ChatRepository interface {
	Create(ctx context.Context, chat *model.Chat) error
	FindByID(ctx context.Context, id string) (*model.Chat, error)
	// FindAll returns every chat, newest first.
	FindAll(ctx context.Context) ([]model.Chat, error)
	// FindByUser returns the chats owned by userID, newest first.
	FindByUser(ctx context.Context, userID string) ([]model.Chat, error)
	// AssignOwner sets the owner of an unowned chat. It reports false when the chat
	// already had an owner (or does not exist); an existing owner is never replaced.
	AssignOwner(ctx context.Context, chatID, userID string) (bool, error)
}

// ConversationRepository persists conversation turns.
type ConversationRepository interface {
	CreateMany(ctx context.Context, turns []*model.Conversation) error
	// FindByChat returns all turns of a chat in chronological order.
	FindByChat(ctx context.Context, chatID string) ([]model.Conversation, error)
	// FindLastByChat returns at most n turns of a chat, newest first.
	FindLastByChat(ctx context.Context, chatID string, n int) ([]model.Conversation, error)
	// FindRecent returns at most n turns across all chats, newest first.
	FindRecent(ctx context.Context, n int) ([]model.Conversation, error)
}

// Store bundles the repositories of one backend.
type Store struct {
	Users         UserRepository
	Chats         ChatRepository
	Conversations ConversationRepository

	ensureIndexes func(ctx context.Context) error
}

// EnsureIndexes creates the backend's indexes (or migrates the schema for SQL).
// users.email is unique; chats are indexed by owner and creation time; turns by (chat, creation time).
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if s.ensureIndexes == nil {
		return nil
	}
	return s.ensureIndexes(ctx)
}

// WithHistoryCache returns a copy of the store whose conversation repository reads
// the last-N window through cache.
func (s *Store) WithHistoryCache(cache HistoryCache) *Store {
	cp := *s
	cp.Conversations = NewCachedConversationRepository(s.Conversations, cache)
	return &cp
}

// newID returns a time-ordered UUIDv7 string so that id order follows insertion order.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// now returns the current UTC time at millisecond precision, the resolution Mongo keeps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func stampUser(u *model.User, id func() string) {
	if u.ID == "" {
		u.ID = id()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}
}

func stampChat(c *model.Chat, id func() string) {
	if c.ID == "" {
		c.ID = id()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
}

func stampConversation(c *model.Conversation, id func() string) {
	if c.ID == "" {
		c.ID = id()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
}
