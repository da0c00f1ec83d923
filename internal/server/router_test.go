package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"ngmc-chatbot-go/internal/config"
	"ngmc-chatbot-go/internal/model"
	"ngmc-chatbot-go/internal/repository"
	"ngmc-chatbot-go/internal/service"
	"ngmc-chatbot-go/pkg/events"
	"ngmc-chatbot-go/pkg/llm"
	"ngmc-chatbot-go/pkg/token"
)

// fakeOpenAI answers like the chat completions API: new chats get reply+title,
// continuations get a reply only.
func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []llm.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode completion request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		system := req.Messages[0].Content
		question := req.Messages[len(req.Messages)-1].Content
		content := `{"reply":"Follow-up on ` + question + `"}`
		if strings.HasSuffix(system, "Output JSON with reply and title only") {
			content = `{"reply":"Answer to ` + question + `","title":"College Info"}`
		}
		resp := map[string]interface{}{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"choices": []interface{}{map[string]interface{}{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T) (*gin.Engine, *repository.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryStore()
	llmClient := llm.NewClient(config.LLMConfig{
		APIKey:         "sk-test",
		BaseURL:        fakeOpenAI(t).URL,
		Model:          "gpt-4",
		MaxTokens:      1200,
		Temperature:    0.7,
		Timeout:        2 * time.Second,
		MaxConcurrency: 4,
	}, events.Nop{})
	assembler := service.NewContextAssembler(config.PromptConfig{
		ReferenceDir:   t.TempDir(),
		ReferenceFiles: []string{"staff.txt"},
		RecentScope:    "chat",
		RecentTurns:    5,
		HistoryTurns:   10,
	}, store.Conversations)
	if err := assembler.Reload(); err != nil {
		t.Fatalf("reload corpus: %v", err)
	}

	users := service.NewUserService(store.Users, token.NewJWTManager("test-secret", 1), "test-key")
	chats := service.NewChatService(store.Chats, store.Conversations, assembler, llmClient, service.NewReplyParser("NGMC Query Response"))
	return NewRouter([]string{"http://localhost:3000"}, Dependencies{UserService: users, ChatService: chats}), store
}

func newOrphanChat() *model.Chat {
	return &model.Chat{Title: "Imported"}
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	var body map[string]string
	decode(t, w, &body)
	if body["error"] != msg {
		t.Fatalf("expected error %q, got %q", msg, body["error"])
	}
}

const ashaAuth = `{"apikey":"test-key","userName":"Asha","email":"asha@ngmc.org","password":"s3cret"}`

func register(t *testing.T, r http.Handler, body string) string {
	t.Helper()
	w := do(r, http.MethodPost, "/checkAuth/", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("check-auth: %d %s", w.Code, w.Body.String())
	}
	var res map[string]string
	decode(t, w, &res)
	return res["token"]
}

func TestCheckAuth(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/checkAuth/", ashaAuth, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var created map[string]string
	decode(t, w, &created)
	if created["status"] != "success" || created["message"] != "User created successfully" || created["token"] == "" {
		t.Fatalf("unexpected body: %v", created)
	}

	w = do(r, http.MethodPost, "/checkAuth", ashaAuth, nil)
	var again map[string]string
	decode(t, w, &again)
	if w.Code != http.StatusOK || again["message"] != "User already exists" {
		t.Fatalf("unexpected second response %d: %v", w.Code, again)
	}

	expectError(t, do(r, http.MethodPost, "/checkAuth/", `{"apikey":"nope","userName":"A","email":"a@b.com","password":"x"}`, nil),
		http.StatusUnauthorized, "Invalid access key")
	expectError(t, do(r, http.MethodPost, "/checkAuth/", `{not json`, nil), http.StatusBadRequest, "Invalid JSON")
	expectError(t, do(r, http.MethodPost, "/checkAuth/", `{"apikey":"test-key","userName":"A","email":"bad","password":"x"}`, nil),
		http.StatusBadRequest, "Invalid email format")
	expectError(t, do(r, http.MethodGet, "/checkAuth/", "", nil), http.StatusMethodNotAllowed, "POST required")
}

func TestNewAndContinueChat(t *testing.T) {
	r, store := newTestRouter(t)
	register(t, r, ashaAuth)

	w := do(r, http.MethodPost, "/postchat/", `{"email":"asha@ngmc.org","password":"s3cret","message":"  Where is NGMC?  "}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("new chat: %d %s", w.Code, w.Body.String())
	}
	var first map[string]string
	decode(t, w, &first)
	if first["reply"] != "Answer to Where is NGMC?" || first["title"] != "College Info" || first["chatId"] == "" || first["userId"] == "" {
		t.Fatalf("unexpected new chat body: %v", first)
	}

	w = do(r, http.MethodPost, "/postchat/"+first["chatId"]+"/", `{"email":"asha@ngmc.org","password":"s3cret","message":"And the fees?"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("continue chat: %d %s", w.Code, w.Body.String())
	}
	var second map[string]string
	decode(t, w, &second)
	if second["reply"] != "Follow-up on And the fees?" || second["chatId"] != first["chatId"] || second["userId"] != first["userId"] {
		t.Fatalf("unexpected continue body: %v", second)
	}
	if _, hasTitle := second["title"]; hasTitle {
		t.Fatal("continue-chat must not return a title")
	}

	turns, err := store.Conversations.FindByChat(testContext(t), first["chatId"])
	if err != nil {
		t.Fatalf("find turns: %v", err)
	}
	if len(turns) != 4 || turns[0].Message != "Where is NGMC?" || turns[3].Message != "Follow-up on And the fees?" {
		t.Fatalf("unexpected stored turns: %+v", turns)
	}
}

// countRecords returns the number of chats and the number of turns across them.
func countRecords(t *testing.T, store *repository.Store) (chats, turns int) {
	t.Helper()
	all, err := store.Chats.FindAll(testContext(t))
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	for _, c := range all {
		convs, err := store.Conversations.FindByChat(testContext(t), c.ID)
		if err != nil {
			t.Fatalf("list turns: %v", err)
		}
		turns += len(convs)
	}
	return len(all), turns
}

func TestChatErrors(t *testing.T) {
	r, store := newTestRouter(t)
	register(t, r, ashaAuth)
	register(t, r, `{"apikey":"test-key","userName":"Ravi","email":"ravi@ngmc.org","password":"pw2"}`)

	expectError(t, do(r, http.MethodPost, "/postchat/", `{"message":"hi"}`, nil), http.StatusUnauthorized, "Email and password are required")
	expectError(t, do(r, http.MethodPost, "/postchat/", `{"email":"asha@ngmc.org","password":"wrong","message":"hi"}`, nil),
		http.StatusUnauthorized, "Invalid credentials")
	expectError(t, do(r, http.MethodPost, "/postchat/", `nope`, nil), http.StatusBadRequest, "Invalid JSON")
	expectError(t, do(r, http.MethodPost, "/postchat/", `{"email":"asha@ngmc.org","password":"s3cret","message":"   "}`, nil),
		http.StatusBadRequest, "Valid message is required")
	expectError(t, do(r, http.MethodPost, "/postchat/", `{"email":"asha@ngmc.org","password":"s3cret","message":"`+strings.Repeat("x", 1001)+`"}`, nil),
		http.StatusBadRequest, "Message too long (max 1000 chars)")
	if chats, turns := countRecords(t, store); chats != 0 || turns != 0 {
		t.Fatalf("rejected requests must not write, got %d chats and %d turns", chats, turns)
	}

	// credentials are checked before the message
	expectError(t, do(r, http.MethodPost, "/postchat/", `{"email":"asha@ngmc.org","password":"wrong","message":""}`, nil),
		http.StatusUnauthorized, "Invalid credentials")

	expectError(t, do(r, http.MethodPost, "/postchat/does-not-exist/", `{"email":"asha@ngmc.org","password":"s3cret","message":"hi"}`, nil),
		http.StatusNotFound, "Chat not found")

	w := do(r, http.MethodPost, "/postchat", `{"email":"asha@ngmc.org","password":"s3cret","message":"hi"}`, nil)
	var created map[string]string
	decode(t, w, &created)
	chatsBefore, turnsBefore := countRecords(t, store)
	expectError(t, do(r, http.MethodPost, "/postchat/"+created["chatId"], `{"email":"ravi@ngmc.org","password":"pw2","message":"mine?"}`, nil),
		http.StatusForbidden, "Unauthorized to access this chat")
	expectError(t, do(r, http.MethodPost, "/postchat/"+created["chatId"], `{"email":"asha@ngmc.org","password":"s3cret","message":"`+strings.Repeat("x", 1001)+`"}`, nil),
		http.StatusBadRequest, "Message too long (max 1000 chars)")
	if chats, turns := countRecords(t, store); chats != chatsBefore || turns != turnsBefore {
		t.Fatalf("rejected continuations must not write: %d/%d chats, %d/%d turns", chats, chatsBefore, turns, turnsBefore)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r, `{"apikey":"test-key","userName":"Meena","email":"meena@ngmc.org","password":"pw"}`)
	creds := `"email":"meena@ngmc.org","password":"pw"`

	w := do(r, http.MethodPost, "/postchat/", `{`+creds+`,"message":"Hello"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("new chat: %d %s", w.Code, w.Body.String())
	}
	var started map[string]string
	decode(t, w, &started)
	if started["chatId"] == "" || started["reply"] == "" || started["title"] == "" {
		t.Fatalf("expected chatId, reply and title, got %v", started)
	}

	w = do(r, http.MethodPost, "/postchat/"+started["chatId"]+"/", `{`+creds+`,"message":"Tell me more"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("continue chat: %d %s", w.Code, w.Body.String())
	}
	var continued map[string]string
	decode(t, w, &continued)
	if continued["chatId"] != started["chatId"] {
		t.Fatalf("expected the same chat, got %v", continued)
	}

	w = do(r, http.MethodGet, "/getchat/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("getchat: %d %s", w.Code, w.Body.String())
	}
	var listed []struct {
		ID            string `json:"id"`
		Conversations []struct {
			Role    string `json:"role"`
			Message string `json:"message"`
		} `json:"conversations"`
	}
	decode(t, w, &listed)
	if len(listed) != 1 || listed[0].ID != started["chatId"] {
		t.Fatalf("expected the chat in the listing, got %s", w.Body.String())
	}
	want := []struct{ role, message string }{
		{"user", "Hello"},
		{"AI", "Answer to Hello"},
		{"user", "Tell me more"},
		{"AI", "Follow-up on Tell me more"},
	}
	turns := listed[0].Conversations
	if len(turns) != len(want) {
		t.Fatalf("expected %d turns, got %d: %s", len(want), len(turns), w.Body.String())
	}
	for i, tw := range want {
		if turns[i].Role != tw.role || turns[i].Message != tw.message {
			t.Fatalf("turn %d: want %s %q, got %s %q", i, tw.role, tw.message, turns[i].Role, turns[i].Message)
		}
	}
}

func TestBearerTokenAuth(t *testing.T) {
	r, _ := newTestRouter(t)
	tok := register(t, r, ashaAuth)

	bearer := map[string]string{"Authorization": "Bearer " + tok}
	w := do(r, http.MethodPost, "/postchat/", `{"message":"hello"}`, bearer)
	if w.Code != http.StatusOK {
		t.Fatalf("expected bearer token to authenticate, got %d %s", w.Code, w.Body.String())
	}

	expectError(t, do(r, http.MethodPost, "/postchat/", `{"message":"hello"}`, map[string]string{"Authorization": "Bearer forged"}),
		http.StatusUnauthorized, "Invalid credentials")
}

func TestListChats(t *testing.T) {
	r, store := newTestRouter(t)
	register(t, r, ashaAuth)
	do(r, http.MethodPost, "/postchat/", `{"email":"asha@ngmc.org","password":"s3cret","message":"q1"}`, nil)

	w := do(r, http.MethodGet, "/getchat/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("getchat: %d %s", w.Code, w.Body.String())
	}
	var all []struct {
		ID            string  `json:"id"`
		Title         string  `json:"title"`
		UserID        *string `json:"user_id"`
		CreatedAt     string  `json:"created_at"`
		Conversations []struct {
			Role      string `json:"role"`
			Message   string `json:"message"`
			CreatedAt string `json:"created_at"`
		} `json:"conversations"`
	}
	decode(t, w, &all)
	if len(all) != 1 || all[0].UserID == nil || all[0].Title != "College Info" {
		t.Fatalf("unexpected listing: %s", w.Body.String())
	}
	if len(all[0].Conversations) != 2 || all[0].Conversations[0].Role != "user" || all[0].Conversations[1].Role != "AI" {
		t.Fatalf("unexpected conversations: %s", w.Body.String())
	}
	if _, err := time.Parse(time.RFC3339, all[0].CreatedAt); err != nil {
		t.Fatalf("created_at is not ISO 8601: %q", all[0].CreatedAt)
	}

	// unowned chats list with a null user_id
	if err := store.Chats.Create(testContext(t), newOrphanChat()); err != nil {
		t.Fatalf("create orphan: %v", err)
	}
	w = do(r, http.MethodGet, "/getchat", "", nil)
	if !strings.Contains(w.Body.String(), `"user_id":null`) {
		t.Fatalf("expected a null user_id: %s", w.Body.String())
	}

	expectError(t, do(r, http.MethodPost, "/getchat/", "", nil), http.StatusMethodNotAllowed, "GET required")

	w = do(r, http.MethodPost, "/getuserchats/", `{"email":"asha@ngmc.org","password":"s3cret"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("getuserchats: %d %s", w.Code, w.Body.String())
	}
	var mine struct {
		User struct {
			ID       string `json:"id"`
			UserName string `json:"userName"`
			Email    string `json:"email"`
		} `json:"user"`
		Chats []json.RawMessage `json:"chats"`
	}
	decode(t, w, &mine)
	if mine.User.UserName != "Asha" || mine.User.Email != "asha@ngmc.org" || len(mine.Chats) != 1 {
		t.Fatalf("unexpected user chats: %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Fatal("password material leaked")
	}

	expectError(t, do(r, http.MethodPost, "/getuserchats/", `{"email":"asha@ngmc.org"}`, nil), http.StatusUnauthorized, "Email and password are required")
	expectError(t, do(r, http.MethodPost, "/getuserchats/", `oops`, nil), http.StatusBadRequest, "Invalid JSON")
}

func TestCORS(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodOptions, "/postchat/", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials to be allowed")
	}

	w = do(r, http.MethodOptions, "/getchat/", "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for OPTIONS without origin, got %d", w.Code)
	}

	w = do(r, http.MethodGet, "/getchat/", "", map[string]string{"Origin": "https://evil.example"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a disallowed origin, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("disallowed origin must not be echoed")
	}

	w = do(r, http.MethodOptions, "/postchat/", "", map[string]string{
		"Origin":                        "https://evil.example",
		"Access-Control-Request-Method": "POST",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 preflight for a disallowed origin, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("disallowed origin must not be echoed on preflight")
	}
}

func TestContinueClaimsUnownedChat(t *testing.T) {
	r, store := newTestRouter(t)
	register(t, r, ashaAuth)

	orphan := newOrphanChat()
	if err := store.Chats.Create(testContext(t), orphan); err != nil {
		t.Fatalf("create orphan: %v", err)
	}
	w := do(r, http.MethodPost, "/postchat/"+orphan.ID, `{"email":"asha@ngmc.org","password":"s3cret","message":"claim it"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("continue orphan: %d %s", w.Code, w.Body.String())
	}
	var res map[string]string
	decode(t, w, &res)

	chat, err := store.Chats.FindByID(testContext(t), orphan.ID)
	if err != nil {
		t.Fatalf("reload chat: %v", err)
	}
	if chat.UserID == nil || *chat.UserID != res["userId"] {
		t.Fatalf("expected chat to be claimed by %s, got %v", res["userId"], chat.UserID)
	}
}

func TestUnknownRoute(t *testing.T) {
	r, _ := newTestRouter(t)
	expectError(t, do(r, http.MethodGet, "/nope", "", nil), http.StatusNotFound, "Not found")

	w := do(r, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
}

// testContext mirrors testing.T.Context (Go 1.24+): it is cancelled when the
// test finishes, just before Cleanup-registered functions run.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
