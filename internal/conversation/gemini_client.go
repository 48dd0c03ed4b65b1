package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiCall is one Gemini chat turn: system instruction, prior turns and
// the prompt, plus generation settings.
type geminiCall struct {
	Model   string
	System  *genai.Content
	History []*genai.Content
	Prompt  string
	Config  genai.GenerationConfig
}

type geminiAPI interface {
	Send(ctx context.Context, call geminiCall) (*genai.GenerateContentResponse, error)
}

// genaiChat runs a geminiCall on a real genai client.
type genaiChat struct {
	client *genai.Client
}

func (g genaiChat) Send(ctx context.Context, call geminiCall) (*genai.GenerateContentResponse, error) {
	model := g.client.GenerativeModel(call.Model)
	model.GenerationConfig = call.Config
	model.SystemInstruction = call.System
	session := model.StartChat()
	session.History = call.History
	return session.SendMessage(ctx, genai.Text(call.Prompt))
}

// GeminiLLMClient implements LLMClient with Google's Gemini API. Extraction
// calls request an application/json response.
type GeminiLLMClient struct {
	api    geminiAPI
	model  string
	closer func() error
}

// NewGeminiLLMClient dials Gemini with apiKey for model (GEMINI_MODEL).
func NewGeminiLLMClient(ctx context.Context, apiKey, model string) (*GeminiLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("conversation: gemini model is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: create gemini client: %w", err)
	}
	c := newGeminiLLMClient(genaiChat{client: client}, model)
	c.closer = client.Close
	return c, nil
}

func newGeminiLLMClient(api geminiAPI, model string) *GeminiLLMClient {
	if api == nil {
		panic("conversation: gemini api cannot be nil")
	}
	return &GeminiLLMClient{api: api, model: strings.TrimSpace(model)}
}

func (c *GeminiLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	p, err := req.parts(true)
	if err != nil {
		return LLMResponse{}, err
	}

	model := c.model
	if model == "" {
		model = strings.TrimSpace(req.Model)
	}
	call := geminiCall{Model: model, Prompt: p.Prompt}
	if p.System != "" {
		call.System = genai.NewUserContent(genai.Text(p.System))
	}
	for _, msg := range p.History {
		role := "user"
		if msg.Role == ChatRoleAssistant {
			role = "model"
		}
		call.History = append(call.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	if req.Temperature >= 0 {
		call.Config.SetTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		call.Config.SetMaxOutputTokens(req.MaxTokens)
	}
	if req.Format == FormatJSON {
		call.Config.ResponseMIMEType = "application/json"
	}

	resp, err := c.api.Send(ctx, call)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: %s gemini completion: %w", req.Purpose, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return LLMResponse{}, fmt.Errorf("conversation: %s gemini completion returned no candidates", req.Purpose)
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	out := LLMResponse{
		Text:       strings.TrimSpace(text.String()),
		StopReason: candidate.FinishReason.String(),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = TokenUsage{
			InputTokens:  u.PromptTokenCount,
			OutputTokens: u.CandidatesTokenCount,
			TotalTokens:  u.TotalTokenCount,
		}
	}
	return out, nil
}

// Close releases the underlying Gemini connection.
func (c *GeminiLLMClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
