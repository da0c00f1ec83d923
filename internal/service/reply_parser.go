package service

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ReplyKind tells how a ReplyResult was obtained.
type ReplyKind int

const (
	// Parsed means the model output contained a JSON object satisfying the schema.
	Parsed ReplyKind = iota
	// Fallback means the raw output is used verbatim under the default title.
	Fallback
)

func (k ReplyKind) String() string {
	if k == Parsed {
		return "parsed"
	}
	return "fallback"
}

// ReplySchema is the shape the model was asked to produce.
type ReplySchema int

const (
	// WithTitle requires non-empty reply and title.
	WithTitle ReplySchema = iota
	// ReplyOnly requires a non-empty reply; the title is optional.
	ReplyOnly
)

// ReplyResult always carries a non-empty Title; Reply is empty only if the raw output was.
type ReplyResult struct {
	Kind  ReplyKind
	Reply string
	Title string
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

type replyPayload struct {
	Reply json.RawMessage `json:"reply"`
	Title json.RawMessage `json:"title"`
}

// ReplyParser extracts {reply, title} from free-form model output.
type ReplyParser struct {
	DefaultTitle string
}

// NewReplyParser returns a parser that falls back to defaultTitle.
func NewReplyParser(defaultTitle string) *ReplyParser {
	if defaultTitle == "" {
		defaultTitle = "NGMC Query Response"
	}
	return &ReplyParser{DefaultTitle: defaultTitle}
}

// Parse tries the whole trimmed text, then the outermost {...} span, then falls back.
// It never fails.
func (p *ReplyParser) Parse(raw string, schema ReplySchema) ReplyResult {
	text := strings.TrimSpace(raw)
	if res, ok := p.decode(text, schema); ok {
		return res
	}
	if span := jsonObjectPattern.FindString(text); span != "" && span != text {
		if res, ok := p.decode(span, schema); ok {
			return res
		}
	}
	return ReplyResult{Kind: Fallback, Reply: raw, Title: p.DefaultTitle}
}

func (p *ReplyParser) decode(text string, schema ReplySchema) (ReplyResult, bool) {
	var payload replyPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return ReplyResult{}, false
	}
	reply := stringField(payload.Reply)
	title := stringField(payload.Title)
	if reply == "" {
		return ReplyResult{}, false
	}
	if title == "" {
		if schema == WithTitle {
			return ReplyResult{}, false
		}
		title = p.DefaultTitle
	}
	return ReplyResult{Kind: Parsed, Reply: reply, Title: title}, true
}

// stringField accepts only JSON strings; other types count as missing.
func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
