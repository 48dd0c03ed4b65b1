package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

type fakeChatClient struct {
	last openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.last = req
	return f.resp, f.err
}

func TestOpenAILLMClient_Complete(t *testing.T) {
	fake := &fakeChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "  Hello!  "},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13},
	}}
	client := NewOpenAILLMClient(fake, "llama-3.3-70b-versatile")

	resp, err := client.Complete(context.Background(), LLMRequest{
		Purpose: PurposeRespond,
		System:  "be brief",
		Messages: []ChatMessage{
			{Role: ChatRoleUser, Content: "hi"},
			{Role: ChatRoleAssistant, Content: ""},
			{Role: ChatRoleUser, Content: "book me in"},
		},
		MaxTokens:   400,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Text)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, int32(13), resp.Usage.TotalTokens)

	assert.Equal(t, "llama-3.3-70b-versatile", fake.last.Model)
	require.Len(t, fake.last.Messages, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, fake.last.Messages[0].Role)
	assert.Equal(t, "book me in", fake.last.Messages[2].Content)
	assert.Equal(t, 400, fake.last.MaxTokens)
	assert.InDelta(t, 0.7, fake.last.Temperature, 0.0001)
	assert.Nil(t, fake.last.ResponseFormat, "replies are free text")
}

func TestOpenAILLMClient_ExtractionUsesJSONMode(t *testing.T) {
	fake := &fakeChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: `{"time":"3pm"}`}}},
	}}
	ex := NewLLMExtractor(NewOpenAILLMClient(fake, ""), "llama-3.3-70b-versatile", logging.Discard())

	got, err := ex.Extract(context.Background(), ExtractionRequest{Message: "3pm please", Intent: IntentBook})
	require.NoError(t, err)
	assert.Equal(t, Entities{Time: "3pm"}, got)

	assert.Equal(t, "llama-3.3-70b-versatile", fake.last.Model, "request model is used when the client has none")
	require.NotNil(t, fake.last.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, fake.last.ResponseFormat.Type)
	assert.Equal(t, extractionSystemPrompt, fake.last.Messages[0].Content)
}

func TestOpenAILLMClient_Errors(t *testing.T) {
	hi := LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}}}

	client := NewOpenAILLMClient(&fakeChatClient{err: errors.New("boom")}, "m")
	_, err := client.Complete(context.Background(), hi)
	require.ErrorContains(t, err, "boom")

	empty := NewOpenAILLMClient(&fakeChatClient{}, "m")
	_, err = empty.Complete(context.Background(), hi)
	require.ErrorContains(t, err, "no choices")

	_, err = empty.Complete(context.Background(), LLMRequest{})
	require.ErrorIs(t, err, errNoMessages)

	_, err = NewOpenAILLMClient(&fakeChatClient{}, "").Complete(context.Background(), hi)
	require.ErrorContains(t, err, "model is required")

	_, err = empty.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: "tool", Content: "x"}}})
	require.ErrorContains(t, err, "unsupported role")

	_, err = NewOpenAICompatibleClient("", GroqBaseURL, "")
	require.Error(t, err)
}

func TestLLMRequestParts(t *testing.T) {
	req := LLMRequest{
		Format: FormatJSON,
		System: "extract fields",
		Messages: []ChatMessage{
			{Role: ChatRoleSystem, Content: "clinic closes at 18:00"},
			{Role: ChatRoleUser, Content: "hello"},
			{Role: ChatRoleAssistant, Content: "  "},
			{Role: ChatRoleAssistant, Content: "How can I help?"},
			{Role: ChatRoleUser, Content: "monday 10am"},
		},
	}

	native, err := req.parts(true)
	require.NoError(t, err)
	assert.Equal(t, "extract fields\n\nclinic closes at 18:00", native.System)
	assert.Equal(t, []ChatMessage{
		{Role: ChatRoleUser, Content: "hello"},
		{Role: ChatRoleAssistant, Content: "How can I help?"},
	}, native.History)
	assert.Equal(t, "monday 10am", native.Prompt)

	prompted, err := req.parts(false)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(prompted.System, jsonOnlyInstruction))

	_, err = LLMRequest{Messages: []ChatMessage{{Role: ChatRoleAssistant, Content: "hi"}}}.parts(true)
	assert.ErrorIs(t, err, errNoMessages)
}

func TestReplyFormatSatisfies(t *testing.T) {
	assert.True(t, FormatJSON.satisfies(`{"date":"monday"}`))
	assert.True(t, FormatJSON.satisfies("```json\n{}\n```"))
	assert.False(t, FormatJSON.satisfies("Sure! What date works for you?"))
	assert.False(t, FormatText.satisfies("   "))
	assert.True(t, FormatText.satisfies("See you Monday."))
}

type fakeGemini struct {
	last geminiCall
	resp *genai.GenerateContentResponse
	err  error
}

func (f *fakeGemini) Send(_ context.Context, call geminiCall) (*genai.GenerateContentResponse, error) {
	f.last = call
	return f.resp, f.err
}

func geminiReply(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(text)}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 20, CandidatesTokenCount: 6, TotalTokenCount: 26},
	}
}

func TestGeminiLLMClient_Respond(t *testing.T) {
	fake := &fakeGemini{resp: geminiReply("  Your appointment is booked.  ")}
	responder := NewLLMResponder(newGeminiLLMClient(fake, "gemini-2.5-flash"), "ignored", "Test Clinic")

	reply, err := responder.Respond(context.Background(), TurnContext{
		Message: "yes",
		Intent:  IntentBook,
		History: []ChatMessage{
			{Role: ChatRoleUser, Content: "book monday 10am"},
			{Role: ChatRoleAssistant, Content: "Shall I book it? (yes/no)"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Your appointment is booked.", reply)

	call := fake.last
	assert.Equal(t, "gemini-2.5-flash", call.Model)
	require.NotNil(t, call.System)
	assert.Contains(t, fmt.Sprint(call.System.Parts[0]), "Test Clinic's booking assistant")
	require.Len(t, call.History, 2)
	assert.Equal(t, "user", call.History[0].Role)
	assert.Equal(t, "model", call.History[1].Role)
	assert.Contains(t, call.Prompt, `User's message: "yes"`)
	assert.Empty(t, call.Config.ResponseMIMEType)
	require.NotNil(t, call.Config.Temperature)
	assert.Equal(t, float32(responseTemperature), *call.Config.Temperature)
	require.NotNil(t, call.Config.MaxOutputTokens)
	assert.Equal(t, int32(responseMaxTokens), *call.Config.MaxOutputTokens)
}

func TestGeminiLLMClient_Extract(t *testing.T) {
	fake := &fakeGemini{resp: geminiReply(`{"patient_name": "Ahmed Benali", "time": "10am"}`)}
	ex := NewLLMExtractor(newGeminiLLMClient(fake, "gemini-2.5-flash"), "", logging.Discard())

	got, err := ex.Extract(context.Background(), ExtractionRequest{Message: "Ahmed Benali at 10am", Intent: IntentBook})
	require.NoError(t, err)
	assert.Equal(t, Entities{PatientName: "Ahmed Benali", Time: "10am"}, got)
	assert.Equal(t, "application/json", fake.last.Config.ResponseMIMEType)
	assert.NotContains(t, fmt.Sprint(fake.last.System.Parts[0]), jsonOnlyInstruction)
}

func TestGeminiLLMClient_Errors(t *testing.T) {
	hi := LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}}}

	_, err := newGeminiLLMClient(&fakeGemini{err: errors.New("quota exceeded")}, "m").Complete(context.Background(), hi)
	require.ErrorContains(t, err, "quota exceeded")

	_, err = newGeminiLLMClient(&fakeGemini{resp: &genai.GenerateContentResponse{}}, "m").Complete(context.Background(), hi)
	require.ErrorContains(t, err, "no candidates")

	resp, err := newGeminiLLMClient(&fakeGemini{resp: geminiReply("ok")}, "m").Complete(context.Background(), hi)
	require.NoError(t, err)
	assert.Equal(t, int32(26), resp.Usage.TotalTokens)

	_, err = NewGeminiLLMClient(context.Background(), "", "gemini-2.5-flash")
	require.Error(t, err)
	_, err = NewGeminiLLMClient(context.Background(), "key", " ")
	require.Error(t, err)
	assert.Panics(t, func() { newGeminiLLMClient(nil, "m") })
}

type fakeConverse struct {
	last *bedrockruntime.ConverseInput
	out  *bedrockruntime.ConverseOutput
	err  error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.last = in
	return f.out, f.err
}

func TestBedrockLLMClient_Complete(t *testing.T) {
	fake := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: `{"date":"monday"}`}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(5), OutputTokens: aws.Int32(4), TotalTokens: aws.Int32(9)},
	}}
	client := NewBedrockLLMClient(fake, "anthropic.claude-3-haiku")

	resp, err := client.Complete(context.Background(), LLMRequest{
		Purpose:     PurposeExtract,
		Format:      FormatJSON,
		Model:       "ignored",
		System:      "extract",
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: "monday"}},
		Temperature: 0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"date":"monday"}`, resp.Text)
	assert.Equal(t, int32(9), resp.Usage.TotalTokens)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(fake.last.ModelId))
	require.NotNil(t, fake.last.InferenceConfig)
	assert.Equal(t, float32(0.1), aws.ToFloat32(fake.last.InferenceConfig.Temperature))
	assert.Nil(t, fake.last.InferenceConfig.MaxTokens)

	require.Len(t, fake.last.System, 1)
	system, ok := fake.last.System[0].(*brtypes.SystemContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "extract\n\n"+jsonOnlyInstruction, system.Value)
	require.Len(t, fake.last.Messages, 1)
	assert.Equal(t, brtypes.ConversationRoleUser, fake.last.Messages[0].Role)
}

func TestBedrockLLMClient_Errors(t *testing.T) {
	hi := LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "x"}}}

	client := NewBedrockLLMClient(&fakeConverse{err: errors.New("throttled")}, "m")
	_, err := client.Complete(context.Background(), hi)
	require.ErrorContains(t, err, "throttled")

	noModel := NewBedrockLLMClient(&fakeConverse{}, "")
	_, err = noModel.Complete(context.Background(), hi)
	require.Error(t, err)

	noOutput := NewBedrockLLMClient(&fakeConverse{out: &bedrockruntime.ConverseOutput{}}, "m")
	_, err = noOutput.Complete(context.Background(), hi)
	require.ErrorContains(t, err, "message output")

	assert.Panics(t, func() { NewBedrockLLMClient(nil, "m") })
}

func TestFallbackLLMClient(t *testing.T) {
	primary := &stubLLM{err: errors.New("primary down")}
	fallback := &stubLLM{text: "from fallback"}
	client := NewFallbackLLMClient(logging.Discard(),
		NamedLLM{Name: "groq", Client: primary},
		NamedLLM{Name: "gemini", Client: fallback},
	)

	resp, err := client.Complete(context.Background(), LLMRequest{Purpose: PurposeRespond, Temperature: -1})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Text)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Len(t, primary.requests, 1)
	assert.Len(t, fallback.requests, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Complete(ctx, LLMRequest{})
	require.Error(t, err)
	assert.Len(t, fallback.requests, 1, "fallback is skipped once the context is done")

	solo := NewFallbackLLMClient(logging.Discard(), NamedLLM{Name: "groq", Client: primary})
	_, err = solo.Complete(context.Background(), LLMRequest{})
	assert.EqualError(t, err, "primary down")

	assert.Panics(t, func() { NewFallbackLLMClient(nil) })
	assert.Panics(t, func() { NewFallbackLLMClient(nil, NamedLLM{Name: "groq"}) })
}

func TestFallbackLLMClient_ExtractionContract(t *testing.T) {
	chatty := &stubLLM{text: "Sure! I noted Monday at 10am."}
	strict := &fakeGemini{resp: geminiReply(`{"date":"monday","time":"10am"}`)}
	client := NewFallbackLLMClient(logging.Discard(),
		NamedLLM{Name: "groq", Client: chatty},
		NamedLLM{Name: "gemini", Client: newGeminiLLMClient(strict, "gemini-2.5-flash")},
	)
	ex := NewLLMExtractor(client, "llama-3.3-70b-versatile", logging.Discard())

	got, err := ex.Extract(context.Background(), ExtractionRequest{Message: "monday at 10am", Intent: IntentBook})
	require.NoError(t, err)
	assert.Equal(t, Entities{Date: "monday", Time: "10am"}, got)
	assert.Len(t, chatty.requests, 1)
	assert.Equal(t, "application/json", strict.last.Config.ResponseMIMEType)

	// Prose is a valid reply, so the primary answers on its own.
	reply, err := NewLLMResponder(client, "", "Test Clinic").Respond(context.Background(), TurnContext{Message: "hi", Intent: IntentGreet})
	require.NoError(t, err)
	assert.Equal(t, "Sure! I noted Monday at 10am.", reply)
}
