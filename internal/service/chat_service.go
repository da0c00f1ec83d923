package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"ngmc-chatbot-go/internal/model"
	"ngmc-chatbot-go/internal/repository"
	"ngmc-chatbot-go/pkg/llm"
	"ngmc-chatbot-go/pkg/log"
)

// listConcurrency bounds the per-chat turn lookups of a listing.
const listConcurrency = 8

// ChatService runs the chat endpoints.
type ChatService interface {
	NewChat(ctx context.Context, user *model.User, message string) (*ChatReply, error)
	ContinueChat(ctx context.Context, user *model.User, chatID, message string) (*ChatReply, error)
	ListAll(ctx context.Context) ([]model.ChatWithConversations, error)
	ListByUser(ctx context.Context, userID string) ([]model.ChatWithConversations, error)
}

// ChatReply is the outcome of one exchange with the model.
type ChatReply struct {
	ChatID string
	Reply  string
	Title  string
	UserID string
	Kind   ReplyKind
}

type chatService struct {
	chats     repository.ChatRepository
	convs     repository.ConversationRepository
	assembler *ContextAssembler
	llmClient llm.Client
	parser    *ReplyParser
}

// NewChatService creates a new ChatService.
func NewChatService(chats repository.ChatRepository, convs repository.ConversationRepository, assembler *ContextAssembler, llmClient llm.Client, parser *ReplyParser) ChatService {
	return &chatService{
		chats:     chats,
		convs:     convs,
		assembler: assembler,
		llmClient: llmClient,
		parser:    parser,
	}
}

// NewChat asks the model about message and stores a new chat owned by user with both turns.
func (s *chatService) NewChat(ctx context.Context, user *model.User, message string) (*ChatReply, error) {
	message, err := ValidateMessage(message)
	if err != nil {
		return nil, err
	}
	askedAt := timestamp()

	messages, err := s.assembler.NewChatMessages(ctx, message)
	if err != nil {
		return nil, err
	}
	// from here on a client disconnect must not turn a real reply into the fallback text
	// or lose the exchange; the model client's own timeout bounds the call
	ctx = context.WithoutCancel(ctx)
	parsed := s.parser.Parse(s.llmClient.Complete(ctx, messages), WithTitle)

	owner := user.ID
	chat := &model.Chat{Title: parsed.Title, UserID: &owner, CreatedAt: askedAt}
	if err := s.chats.Create(ctx, chat); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	if err := s.saveExchange(ctx, chat.ID, message, parsed.Reply, askedAt); err != nil {
		return nil, err
	}

	log.Infow("chat created", "chat_id", chat.ID, "user_id", user.ID, "reply_kind", parsed.Kind.String())
	return &ChatReply{ChatID: chat.ID, Reply: parsed.Reply, Title: parsed.Title, UserID: user.ID, Kind: parsed.Kind}, nil
}

// ContinueChat appends an exchange to an existing chat, claiming it for user when it has no owner.
func (s *chatService) ContinueChat(ctx context.Context, user *model.User, chatID, message string) (*ChatReply, error) {
	message, err := ValidateMessage(message)
	if err != nil {
		return nil, err
	}
	askedAt := timestamp()

	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if err := s.claim(ctx, chat, user.ID); err != nil {
		return nil, err
	}

	messages, err := s.assembler.ContinueChatMessages(ctx, chat.ID, message)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	parsed := s.parser.Parse(s.llmClient.Complete(ctx, messages), ReplyOnly)

	if err := s.saveExchange(ctx, chat.ID, message, parsed.Reply, askedAt); err != nil {
		return nil, err
	}

	log.Infow("chat continued", "chat_id", chat.ID, "user_id", user.ID, "reply_kind", parsed.Kind.String())
	return &ChatReply{ChatID: chat.ID, Reply: parsed.Reply, Title: parsed.Title, UserID: user.ID, Kind: parsed.Kind}, nil
}

// claim checks ownership and attaches userID to an unowned chat.
func (s *chatService) claim(ctx context.Context, chat *model.Chat, userID string) error {
	if chat.OwnedByOther(userID) {
		return ErrChatForbidden
	}
	if chat.UserID != nil {
		return nil
	}
	ok, err := s.chats.AssignOwner(ctx, chat.ID, userID)
	if err != nil {
		return fmt.Errorf("assign chat owner: %w", err)
	}
	if ok {
		chat.UserID = &userID
		return nil
	}
	// someone else claimed it between the read and the update
	current, err := s.chats.FindByID(ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("reload chat: %w", err)
	}
	if current.OwnedByOther(userID) {
		return ErrChatForbidden
	}
	*chat = *current
	return nil
}

// saveExchange stores the user turn at askedAt and the AI turn at insert time.
func (s *chatService) saveExchange(ctx context.Context, chatID, question, answer string, askedAt time.Time) error {
	turns := []*model.Conversation{
		{ChatID: chatID, Role: model.RoleUser, Message: question, CreatedAt: askedAt},
		{ChatID: chatID, Role: model.RoleAI, Message: answer},
	}
	if err := s.convs.CreateMany(ctx, turns); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// ListAll returns every chat with its turns, newest chat first.
func (s *chatService) ListAll(ctx context.Context) ([]model.ChatWithConversations, error) {
	chats, err := s.chats.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return s.withConversations(ctx, chats)
}

// ListByUser returns the chats owned by userID with their turns, newest chat first.
func (s *chatService) ListByUser(ctx context.Context, userID string) ([]model.ChatWithConversations, error) {
	chats, err := s.chats.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user chats: %w", err)
	}
	return s.withConversations(ctx, chats)
}

func (s *chatService) withConversations(ctx context.Context, chats []model.Chat) ([]model.ChatWithConversations, error) {
	out := make([]model.ChatWithConversations, len(chats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i := range chats {
		i := i
		g.Go(func() error {
			turns, err := s.convs.FindByChat(gctx, chats[i].ID)
			if err != nil {
				return fmt.Errorf("list conversations of chat %s: %w", chats[i].ID, err)
			}
			out[i] = model.ChatWithConversations{Chat: chats[i], Conversations: turns}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
