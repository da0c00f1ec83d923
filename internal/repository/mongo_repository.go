package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"ngmc-chatbot-go/internal/model"
)

const (
	usersCollection         = "users"
	chatsCollection         = "chats"
	conversationsCollection = "conversations"
)

// NewMongoStore builds a Store over the users, chats and conversations collections of db.
// Every query runs with queryTimeout on top of the caller's context.
func NewMongoStore(db *mongo.Database, queryTimeout time.Duration) *Store {
	base := mongoBase{timeout: queryTimeout}
	users := &mongoUserRepository{mongoBase: base, coll: db.Collection(usersCollection)}
	chats := &mongoChatRepository{mongoBase: base, coll: db.Collection(chatsCollection)}
	convs := &mongoConversationRepository{mongoBase: base, coll: db.Collection(conversationsCollection)}
	return &Store{
		Users:         users,
		Chats:         chats,
		Conversations: convs,
		ensureIndexes: func(ctx context.Context) error {
			return ensureMongoIndexes(ctx, users.coll, chats.coll, convs.coll)
		},
	}
}

func ensureMongoIndexes(ctx context.Context, users, chats, convs *mongo.Collection) error {
	if _, err := users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create users indexes: %w", err)
	}
	if _, err := chats.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create chats indexes: %w", err)
	}
	if _, err := convs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create conversations index: %w", err)
	}
	return nil
}

type mongoBase struct {
	timeout time.Duration
}

func (b mongoBase) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, b.timeout)
}

func mongoObjectID() string {
	return bson.NewObjectID().Hex()
}

type mongoUserRepository struct {
	mongoBase
	coll *mongo.Collection
}

func (r *mongoUserRepository) Create(ctx context.Context, user *model.User) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	stampUser(user, mongoObjectID)
	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *mongoUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: email}})
}

func (r *mongoUserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (r *mongoUserRepository) findOne(ctx context.Context, filter bson.D) (*model.User, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	var user model.User
	if err := r.coll.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

type mongoChatRepository struct {
	mongoBase
	coll *mongo.Collection
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

func (r *mongoChatRepository) Create(ctx context.Context, chat *model.Chat) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	stampChat(chat, mongoObjectID)
	if _, err := r.coll.InsertOne(ctx, chat); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (r *mongoChatRepository) FindByID(ctx context.Context, id string) (*model.Chat, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	var chat model.Chat
	if err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&chat); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find chat: %w", err)
	}
	return &chat, nil
}

func (r *mongoChatRepository) FindAll(ctx context.Context) ([]model.Chat, error) {
	return r.find(ctx, bson.D{})
}

func (r *mongoChatRepository) FindByUser(ctx context.Context, userID string) ([]model.Chat, error) {
	return r.find(ctx, bson.D{{Key: "user_id", Value: userID}})
}

func (r *mongoChatRepository) find(ctx context.Context, filter bson.D) ([]model.Chat, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, fmt.Errorf("find chats: %w", err)
	}
	chats := make([]model.Chat, 0)
	if err := cur.All(ctx, &chats); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}
	return chats, nil
}

func (r *mongoChatRepository) AssignOwner(ctx context.Context, chatID, userID string) (bool, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	// user_id: null also matches documents written without the field.
	filter := bson.D{{Key: "_id", Value: chatID}, {Key: "user_id", Value: nil}}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "user_id", Value: userID}}}}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("assign chat owner: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

type mongoConversationRepository struct {
	mongoBase
	coll *mongo.Collection
}

func (r *mongoConversationRepository) CreateMany(ctx context.Context, turns []*model.Conversation) error {
	if len(turns) == 0 {
		return nil
	}
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	for _, t := range turns {
		stampConversation(t, mongoObjectID)
	}
	if _, err := r.coll.InsertMany(ctx, turns); err != nil {
		return fmt.Errorf("insert conversations: %w", err)
	}
	return nil
}

func (r *mongoConversationRepository) FindByChat(ctx context.Context, chatID string) ([]model.Conversation, error) {
	sort := bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
	return r.find(ctx, bson.D{{Key: "chat_id", Value: chatID}}, options.Find().SetSort(sort))
}

func (r *mongoConversationRepository) FindLastByChat(ctx context.Context, chatID string, n int) ([]model.Conversation, error) {
	if n <= 0 {
		return []model.Conversation{}, nil
	}
	opts := options.Find().SetSort(newestFirst).SetLimit(int64(n))
	return r.find(ctx, bson.D{{Key: "chat_id", Value: chatID}}, opts)
}

func (r *mongoConversationRepository) FindRecent(ctx context.Context, n int) ([]model.Conversation, error) {
	if n <= 0 {
		return []model.Conversation{}, nil
	}
	opts := options.Find().SetSort(newestFirst).SetLimit(int64(n))
	return r.find(ctx, bson.D{}, opts)
}

func (r *mongoConversationRepository) find(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]model.Conversation, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	turns := make([]model.Conversation, 0)
	if err := cur.All(ctx, &turns); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return turns, nil
}
