package mainconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	appconfig "github.com/wolfman30/medibook-assistant/internal/config"
	"github.com/wolfman30/medibook-assistant/internal/conversation"
)

// NewLLMClient builds the client for one provider name. "", "none" and
// "local" yield a nil client and no error.
func NewLLMClient(ctx context.Context, provider string, cfg *appconfig.Config, loadAWS AWSLoader) (conversation.LLMClient, error) {
	switch provider {
	case "", "none", "local":
		return nil, nil
	case "groq", "openai":
		key, baseURL := cfg.GroqAPIKey, cfg.GroqBaseURL
		if provider == "openai" {
			key, baseURL = cfg.OpenAIAPIKey, ""
		}
		client, err := conversation.NewOpenAICompatibleClient(key, baseURL, cfg.LLMModel)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, errors.New("GEMINI_API_KEY is not set")
		}
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "bedrock":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, errors.New("BEDROCK_MODEL_ID is not set")
		}
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, fmt.Errorf("load aws config for bedrock: %w", err)
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}
