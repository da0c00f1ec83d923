package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"ngmc-chatbot-go/internal/config"
	"ngmc-chatbot-go/internal/model"
	"ngmc-chatbot-go/internal/repository"
	"ngmc-chatbot-go/pkg/llm"
	"ngmc-chatbot-go/pkg/log"
)

// RecentScope selects which turns feed the "last conversations" block of the system prompt.
type RecentScope string

const (
	// RecentScopeChat uses the active chat only; a brand new chat gets an empty block.
	RecentScopeChat RecentScope = "chat"
	// RecentScopeGlobal uses the newest turns across every chat.
	RecentScopeGlobal RecentScope = "global"
	// RecentScopeNone leaves the block empty.
	RecentScopeNone RecentScope = "none"
)

const promptHeader = `You are an intelligent AI assistant for Nallamuthu Gounder Mahalingam College (NGMC), Pollachi.
Provide accurate, helpful, and engaging information about the college.
Official site: https://www.ngmc.org

Always be helpful, accurate, and maintain a professional yet friendly tone.

Dont repeat the same answer if asked multiple times.

Use the following web-scraped data for reference:
`

const promptRecentHeader = `
and the last %d conversations for context:
`

const promptFooter = `
You may get 2 types of queries:
1. General queries about NGMC college, courses, admissions, facilities, etc.
for this you need to answer in a conversational manner.
2. Specific queries about exam schedules, fee structures, seating arrangements, syllabus, etc.
for this you need to answer with simple and direct answers with relevant links from the provided data.

for new line use \n.
for bold text use **text**.

ALWAYS output in JSON format with two keys: "reply" and "title".

LIMITS:
- "reply" should be concise, ideally under 500 words.
- "title" should be a brief summary of the reply, ideally under 4 words.
`

const (
	newChatTask      = "Output JSON with reply and title only"
	continueChatTask = "Output JSON with reply only"
)

// ContextAssembler builds the message list sent to the model.
type ContextAssembler struct {
	convs        repository.ConversationRepository
	dir          string
	files        []string
	scope        RecentScope
	recentTurns  int
	historyTurns int

	mu     sync.RWMutex
	corpus string
}

// NewContextAssembler creates an assembler. Call Reload before serving to load the corpus.
func NewContextAssembler(cfg config.PromptConfig, convs repository.ConversationRepository) *ContextAssembler {
	scope := RecentScope(cfg.RecentScope)
	if scope == "" {
		scope = RecentScopeChat
	}
	return &ContextAssembler{
		convs:        convs,
		dir:          cfg.ReferenceDir,
		files:        cfg.ReferenceFiles,
		scope:        scope,
		recentTurns:  cfg.RecentTurns,
		historyTurns: cfg.HistoryTurns,
	}
}

// Reload re-reads the reference files. A missing file contributes a "[name not found]" marker.
func (a *ContextAssembler) Reload() error {
	var b strings.Builder
	for _, name := range a.files {
		data, err := os.ReadFile(filepath.Join(a.dir, name))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Warnf("reference file %s not found in %s", name, a.dir)
			fmt.Fprintf(&b, "[%s not found]\n", name)
		case err != nil:
			return fmt.Errorf("read reference file %s: %w", name, err)
		default:
			b.Write(data)
			b.WriteString("\n")
		}
	}

	a.mu.Lock()
	a.corpus = strings.TrimSpace(b.String())
	a.mu.Unlock()
	log.Infof("reference corpus loaded: %d files, %d bytes", len(a.files), b.Len())
	return nil
}

// Corpus returns the reference text currently in use.
func (a *ContextAssembler) Corpus() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.corpus
}

// NewChatMessages returns [system, user] for the first message of a chat.
func (a *ContextAssembler) NewChatMessages(ctx context.Context, userMessage string) ([]llm.Message, error) {
	var recent []model.Conversation
	if a.scope == RecentScopeGlobal {
		var err error
		if recent, err = a.convs.FindRecent(ctx, a.recentTurns); err != nil {
			return nil, fmt.Errorf("load recent turns: %w", err)
		}
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: a.systemPrompt(recent, userMessage, newChatTask)},
		{Role: llm.RoleUser, Content: userMessage},
	}, nil
}

// ContinueChatMessages returns the system message, the chat's last turns in chronological
// order and the new user message.
func (a *ContextAssembler) ContinueChatMessages(ctx context.Context, chatID, userMessage string) ([]llm.Message, error) {
	window := a.historyTurns
	if a.scope == RecentScopeChat && a.recentTurns > window {
		window = a.recentTurns
	}
	lastTurns, err := a.convs.FindLastByChat(ctx, chatID, window)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}

	var recent []model.Conversation
	switch a.scope {
	case RecentScopeChat:
		recent = head(lastTurns, a.recentTurns)
	case RecentScopeGlobal:
		if recent, err = a.convs.FindRecent(ctx, a.recentTurns); err != nil {
			return nil, fmt.Errorf("load recent turns: %w", err)
		}
	}

	history := head(lastTurns, a.historyTurns)
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt(recent, userMessage, continueChatTask)})
	for i := len(history) - 1; i >= 0; i-- {
		messages = append(messages, llm.Message{Role: apiRole(history[i].Role), Content: history[i].Message})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMessage})
	return messages, nil
}

// systemPrompt renders the instructions around the corpus and the newest-first recent turns.
func (a *ContextAssembler) systemPrompt(recent []model.Conversation, userMessage, task string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString(a.Corpus())
	b.WriteString("\n")
	fmt.Fprintf(&b, promptRecentHeader, a.recentTurns)
	b.WriteString(snapshot(recent))
	b.WriteString(promptFooter)
	b.WriteString("\nUser Query: ")
	b.WriteString(userMessage)
	b.WriteString("\n")
	b.WriteString(task)
	return b.String()
}

// snapshot renders newest-first turns as "[role] message" lines, oldest first.
func snapshot(turns []model.Conversation) string {
	lines := make([]string, 0, len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		lines = append(lines, fmt.Sprintf("[%s] %s", turns[i].Role, turns[i].Message))
	}
	return strings.Join(lines, "\n")
}

func apiRole(role string) string {
	if role == model.RoleAI {
		return llm.RoleAssistant
	}
	return llm.RoleUser
}

func head(turns []model.Conversation, n int) []model.Conversation {
	if n <= 0 {
		return nil
	}
	if len(turns) > n {
		return turns[:n]
	}
	return turns
}
