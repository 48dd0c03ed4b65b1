package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

// ExtractionRequest is the input of one entity extraction.
type ExtractionRequest struct {
	Message string
	Intent  Intent
	History []ChatMessage
	Known   Entities
}

// EntityExtractor pulls new or corrected booking fields out of a message.
// An empty result is valid.
type EntityExtractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (Entities, error)
}

const (
	extractionHistoryTurns = 3
	extractionTemperature  = 0.1
	extractionMaxTokens    = 500
)

const extractionSystemPrompt = `You are an entity extraction AI for a medical clinic.
Extract relevant information from user messages and return ONLY valid JSON.

CRITICAL RULES:
1. Extract ALL entities mentioned in the current message
2. Return ONLY NEW or UPDATED entities from this message
3. If a field isn't mentioned in THIS message, omit it from your response
4. Don't repeat entities that were already collected unless the user is correcting them

Extract these fields when present:
- patient_name: full name
- patient_phone: phone number (format: 10 digits)
- date: date mentioned (keep original format like "28 december", "monday", "6 january 2026")
- time: time mentioned (keep original format like "10", "1", "14h30")
- doctor_name: doctor's name if mentioned (e.g., "Dr. Smith", "Doctor Ahmed")
- reason: reason for visit (e.g., "checkup", "consultation", "follow-up")
- appointment_id: appointment ID if mentioned

Return ONLY a JSON object with extracted fields from THIS MESSAGE ONLY.

Examples:
User: "Book for John Doe"
Response: {"patient_name": "John Doe"}

User: "with Dr. Ahmed for a checkup"
Response: {"doctor_name": "Dr. Ahmed", "reason": "checkup"}

User: "0543698720"
Response: {"patient_phone": "0543698720"}

User: "yes" (when confirming)
Response: {}`

// LLMExtractor asks a language model for the fields as a JSON object.
type LLMExtractor struct {
	client LLMClient
	model  string
	logger *logging.Logger
}

func NewLLMExtractor(client LLMClient, model string, logger *logging.Logger) *LLMExtractor {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMExtractor{client: client, model: model, logger: logger}
}

// Extract returns an error only when the model call fails. Output that is
// not a JSON object yields empty entities.
func (e *LLMExtractor) Extract(ctx context.Context, req ExtractionRequest) (Entities, error) {
	messages := append([]ChatMessage(nil), lastTurns(req.History, extractionHistoryTurns)...)

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Intent: %s\nCurrent message: %s", req.Intent, req.Message)
	if !req.Known.IsEmpty() {
		known, _ := json.Marshal(req.Known)
		fmt.Fprintf(&prompt, "\n\nAlready collected: %s", known)
	}
	prompt.WriteString("\n\nExtract NEW entities from current message as JSON:")
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: prompt.String()})

	resp, err := e.client.Complete(ctx, LLMRequest{
		Purpose:     PurposeExtract,
		Format:      FormatJSON,
		Model:       e.model,
		System:      extractionSystemPrompt,
		Messages:    messages,
		MaxTokens:   extractionMaxTokens,
		Temperature: extractionTemperature,
	})
	if err != nil {
		return Entities{}, fmt.Errorf("conversation: entity extraction: %w", err)
	}

	entities, err := entitiesFromJSON([]byte(stripCodeFence(resp.Text)))
	if err != nil {
		e.logger.Warn("entity extraction returned malformed JSON", "error", err.Error())
		return Entities{}, nil
	}
	return entities, nil
}

// stripCodeFence unwraps a reply fenced in ``` with an optional json tag.
func stripCodeFence(text string) string {
	content := strings.TrimSpace(text)
	if strings.HasPrefix(content, "```") {
		parts := strings.Split(content, "```")
		if len(parts) > 1 {
			content = strings.TrimSpace(parts[1])
		}
		content = strings.TrimSpace(strings.TrimPrefix(content, "json"))
	}
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start > 0 && end > start {
		content = content[start : end+1]
	}
	return content
}

// FallbackExtractor uses the local extractor when the primary one fails.
type FallbackExtractor struct {
	primary  EntityExtractor
	fallback EntityExtractor
	logger   *logging.Logger
}

func NewFallbackExtractor(primary, fallback EntityExtractor, logger *logging.Logger) *FallbackExtractor {
	if primary == nil {
		panic("conversation: primary extractor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackExtractor{primary: primary, fallback: fallback, logger: logger}
}

func (f *FallbackExtractor) Extract(ctx context.Context, req ExtractionRequest) (Entities, error) {
	entities, err := f.primary.Extract(ctx, req)
	if err == nil || f.fallback == nil {
		return entities, err
	}
	f.logger.Warn("entity extraction failed, using local extractor", "error", err.Error())
	return f.fallback.Extract(ctx, req)
}

func lastTurns(history []ChatMessage, n int) []ChatMessage {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
