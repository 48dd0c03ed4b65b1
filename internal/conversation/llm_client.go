package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation as stored in session history and
// passed to a model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Purpose names the pipeline stage a completion serves. It labels logs and
// metrics and selects the reply contract.
type Purpose string

const (
	PurposeExtract Purpose = "extract"
	PurposeRespond Purpose = "respond"
)

// ReplyFormat is what the caller parses out of the completion text.
type ReplyFormat int

const (
	// FormatText is free text shown to the patient.
	FormatText ReplyFormat = iota
	// FormatJSON is a single JSON object of booking fields.
	FormatJSON
)

// jsonOnlyInstruction is appended to the system prompt for providers that
// have no native JSON mode.
const jsonOnlyInstruction = "Reply with exactly one JSON object and no other text."

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// LLMRequest is one extraction or reply-generation call. A negative
// Temperature leaves the provider default in place.
type LLMRequest struct {
	Purpose     Purpose
	Format      ReplyFormat
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
}

// LLMResponse carries the completion text. Provider is set by the fallback
// chain to the name of the provider that answered.
type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
	Provider   string
}

// LLMClient is implemented by every model provider.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

var errNoMessages = errors.New("conversation: completion request has no messages")

// promptParts is an LLMRequest normalized for provider adapters: system-role
// history turns are folded into the system prompt, empty turns are dropped,
// and the final user turn is split off as the prompt.
type promptParts struct {
	System  string
	History []ChatMessage
	Prompt  string
}

func (r LLMRequest) parts(nativeJSON bool) (promptParts, error) {
	system := []string{}
	if s := strings.TrimSpace(r.System); s != "" {
		system = append(system, s)
	}
	turns := make([]ChatMessage, 0, len(r.Messages))
	for _, msg := range r.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case ChatRoleSystem:
			system = append(system, content)
		case ChatRoleUser, ChatRoleAssistant:
			turns = append(turns, ChatMessage{Role: msg.Role, Content: content})
		default:
			return promptParts{}, fmt.Errorf("conversation: unsupported role %q", msg.Role)
		}
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != ChatRoleUser {
		return promptParts{}, errNoMessages
	}
	if r.Format == FormatJSON && !nativeJSON {
		system = append(system, jsonOnlyInstruction)
	}
	return promptParts{
		System:  strings.Join(system, "\n\n"),
		History: turns[:len(turns)-1],
		Prompt:  turns[len(turns)-1].Content,
	}, nil
}

// satisfies reports whether text meets the reply contract of format.
func (f ReplyFormat) satisfies(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if f == FormatJSON {
		content := stripCodeFence(text)
		return strings.HasPrefix(content, "{") && strings.HasSuffix(content, "}")
	}
	return true
}
