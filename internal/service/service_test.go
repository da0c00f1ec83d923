package service

import (
	"context"
	"sync"

	"ngmc-chatbot-go/internal/config"
	"ngmc-chatbot-go/internal/repository"
	"ngmc-chatbot-go/pkg/llm"
	"ngmc-chatbot-go/pkg/token"
)

// stubLLM returns canned replies and records every conversation it was sent.
type stubLLM struct {
	mu      sync.Mutex
	replies []string
	calls   [][]llm.Message
	ctxErrs []error
}

func (s *stubLLM) Complete(ctx context.Context, messages []llm.Message) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, messages)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if len(s.replies) == 0 {
		return llm.DefaultFallbackReply
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r
}

func (s *stubLLM) lastCall() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

type fixture struct {
	store *repository.Store
	users UserService
	chats ChatService
	llm   *stubLLM
}

func newFixture(scope string, replies ...string) *fixture {
	store := repository.NewMemoryStore()
	assembler := NewContextAssembler(config.PromptConfig{
		RecentScope:  scope,
		RecentTurns:  5,
		HistoryTurns: 10,
	}, store.Conversations)
	stub := &stubLLM{replies: replies}
	return &fixture{
		store: store,
		users: NewUserService(store.Users, token.NewJWTManager("secret", 1), "test-key"),
		chats: NewChatService(store.Chats, store.Conversations, assembler, stub, NewReplyParser("NGMC Query Response")),
		llm:   stub,
	}
}
