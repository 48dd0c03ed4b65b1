package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

// NamedLLM pairs a client with its LLM_PROVIDER name.
type NamedLLM struct {
	Name   string
	Client LLMClient
}

// FallbackLLMClient tries providers in order (LLM_PROVIDER, then
// LLM_FALLBACK_PROVIDER). A provider is skipped when it errors or when its
// text breaks the request's reply contract, such as prose returned for an
// extraction call. The last provider's reply is returned as is.
type FallbackLLMClient struct {
	chain  []NamedLLM
	logger *logging.Logger
}

func NewFallbackLLMClient(logger *logging.Logger, chain ...NamedLLM) *FallbackLLMClient {
	if len(chain) == 0 {
		panic("conversation: fallback chain cannot be empty")
	}
	for _, p := range chain {
		if p.Client == nil {
			panic("conversation: llm client cannot be nil")
		}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{chain: chain, logger: logger}
}

func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	var errs []error
	for i, p := range c.chain {
		last := i == len(c.chain)-1
		resp, err := p.Client.Complete(ctx, req)
		switch {
		case err == nil && (last || req.Format.satisfies(resp.Text)):
			if i > 0 {
				c.logger.Info("llm fallback answered", "provider", p.Name, "purpose", req.Purpose)
			}
			resp.Provider = p.Name
			return resp, nil
		case err == nil:
			err = fmt.Errorf("conversation: %s reply breaks the %s contract", p.Name, req.Purpose)
		}
		errs = append(errs, err)
		if last || ctx.Err() != nil {
			break
		}
		c.logger.Warn("llm provider failed, trying next",
			"provider", p.Name,
			"next", c.chain[i+1].Name,
			"purpose", req.Purpose,
			"error", err.Error(),
		)
	}
	c.logger.Error("all llm providers failed", "purpose", req.Purpose, "error", errors.Join(errs...).Error())
	return LLMResponse{}, errors.Join(errs...)
}
