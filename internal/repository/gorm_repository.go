package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"ngmc-chatbot-go/internal/model"
)

// NewGormStore builds a Store over a GORM connection. The connection must be opened
// with TranslateError enabled so unique violations surface as gorm.ErrDuplicatedKey.
func NewGormStore(db *gorm.DB, queryTimeout time.Duration) *Store {
	base := gormBase{db: db, timeout: queryTimeout}
	return &Store{
		Users:         &gormUserRepository{base},
		Chats:         &gormChatRepository{base},
		Conversations: &gormConversationRepository{base},
		ensureIndexes: func(ctx context.Context) error {
			if err := db.WithContext(ctx).AutoMigrate(&model.User{}, &model.Chat{}, &model.Conversation{}); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
			return nil
		},
	}
}

type gormBase struct {
	db      *gorm.DB
	timeout time.Duration
}

// session returns a db handle bound to ctx plus the query timeout.
func (b gormBase) session(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	var cancel context.CancelFunc
	if b.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	return b.db.WithContext(ctx), cancel
}

// gormUserRepository is the GORM implementation of UserRepository.
type gormUserRepository struct {
	gormBase
}

// Create inserts a new user row.
func (r *gormUserRepository) Create(ctx context.Context, user *model.User) error {
	db, cancel := r.session(ctx)
	defer cancel()
	stampUser(user, newID)
	if err := db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByEmail looks a user up by email.
func (r *gormUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	var user model.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, notFound(err, "find user")
	}
	return &user, nil
}

// FindByID looks a user up by primary key.
func (r *gormUserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	var user model.User
	if err := db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err, "find user")
	}
	return &user, nil
}

type gormChatRepository struct {
	gormBase
}

func (r *gormChatRepository) Create(ctx context.Context, chat *model.Chat) error {
	db, cancel := r.session(ctx)
	defer cancel()
	stampChat(chat, newID)
	if err := db.Create(chat).Error; err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (r *gormChatRepository) FindByID(ctx context.Context, id string) (*model.Chat, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	var chat model.Chat
	if err := db.Where("id = ?", id).First(&chat).Error; err != nil {
		return nil, notFound(err, "find chat")
	}
	return &chat, nil
}

func (r *gormChatRepository) FindAll(ctx context.Context) ([]model.Chat, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	chats := make([]model.Chat, 0)
	if err := db.Order("created_at DESC, id DESC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("find chats: %w", err)
	}
	return chats, nil
}

func (r *gormChatRepository) FindByUser(ctx context.Context, userID string) ([]model.Chat, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	chats := make([]model.Chat, 0)
	if err := db.Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("find chats by user: %w", err)
	}
	return chats, nil
}

func (r *gormChatRepository) AssignOwner(ctx context.Context, chatID, userID string) (bool, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	res := db.Model(&model.Chat{}).
		Where("id = ? AND user_id IS NULL", chatID).
		Update("user_id", userID)
	if res.Error != nil {
		return false, fmt.Errorf("assign chat owner: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

type gormConversationRepository struct {
	gormBase
}

func (r *gormConversationRepository) CreateMany(ctx context.Context, turns []*model.Conversation) error {
	if len(turns) == 0 {
		return nil
	}
	db, cancel := r.session(ctx)
	defer cancel()
	for _, t := range turns {
		stampConversation(t, newID)
	}
	if err := db.Create(&turns).Error; err != nil {
		return fmt.Errorf("insert conversations: %w", err)
	}
	return nil
}

func (r *gormConversationRepository) FindByChat(ctx context.Context, chatID string) ([]model.Conversation, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	turns := make([]model.Conversation, 0)
	if err := db.Where("chat_id = ?", chatID).Order("created_at ASC, id ASC").Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	return turns, nil
}

func (r *gormConversationRepository) FindLastByChat(ctx context.Context, chatID string, n int) ([]model.Conversation, error) {
	if n <= 0 {
		return []model.Conversation{}, nil
	}
	db, cancel := r.session(ctx)
	defer cancel()
	turns := make([]model.Conversation, 0, n)
	if err := db.Where("chat_id = ?", chatID).Order("created_at DESC, id DESC").Limit(n).Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("find last conversations: %w", err)
	}
	return turns, nil
}

func (r *gormConversationRepository) FindRecent(ctx context.Context, n int) ([]model.Conversation, error) {
	if n <= 0 {
		return []model.Conversation{}, nil
	}
	db, cancel := r.session(ctx)
	defer cancel()
	turns := make([]model.Conversation, 0, n)
	if err := db.Order("created_at DESC, id DESC").Limit(n).Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("find recent conversations: %w", err)
	}
	return turns, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
