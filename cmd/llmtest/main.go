package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wolfman30/medibook-assistant/cmd/mainconfig"
	appconfig "github.com/wolfman30/medibook-assistant/internal/config"
	"github.com/wolfman30/medibook-assistant/internal/conversation"
	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

// sampleTurns walk one booking through extraction, mixing the languages the
// assistant accepts.
var sampleTurns = []string{
	"I want to book an appointment",
	"My name is Ahmed Benali, my number is 0555 12 34 56",
	"demain à 10h pour une consultation",
	"with Dr. Karim please",
}

func main() {
	// Load configuration (.env first)
	cfg := appconfig.Load()
	logger := logging.New("warn")

	providers := os.Args[1:]
	if len(providers) == 0 {
		providers = []string{cfg.LLMProvider}
		if cfg.LLMFallbackProvider != "" && cfg.LLMFallbackProvider != cfg.LLMProvider {
			providers = append(providers, cfg.LLMFallbackProvider)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	loadAWS := mainconfig.NewAWSLoader(ctx, cfg)

	rule := strings.Repeat("=", 60)
	fmt.Println(rule)
	fmt.Println("LLM Provider Test")
	fmt.Println(rule)

	failed := 0
	for i, name := range providers {
		fmt.Printf("\n[%d] Testing %s...\n", i+1, name)
		client, err := mainconfig.NewLLMClient(ctx, name, cfg, loadAWS)
		if err != nil {
			fmt.Printf("    ❌ Failed to create client: %v\n", err)
			failed++
			continue
		}
		if client == nil {
			fmt.Println("    Skipping (local provider has no model)")
			continue
		}
		if !runProvider(ctx, client, cfg, logger) {
			failed++
		}
	}

	fmt.Println("\n" + rule)
	fmt.Println("Test Summary")
	fmt.Println(rule)
	if failed > 0 {
		fmt.Printf("❌ %d provider(s) failed\n", failed)
		os.Exit(1)
	}
	fmt.Println("✅ Every configured provider returned usable entities and a reply")
}

func runProvider(ctx context.Context, client conversation.LLMClient, cfg *appconfig.Config, logger *logging.Logger) bool {
	extractor := conversation.NewLLMExtractor(client, cfg.LLMModel, logger)
	responder := conversation.NewLLMResponder(client, cfg.LLMModel, cfg.ClinicName)

	var (
		known   conversation.Entities
		history []conversation.ChatMessage
	)
	for _, msg := range sampleTurns {
		callCtx, cancel := context.WithTimeout(ctx, cfg.LLMTimeout)
		start := time.Now()
		update, err := extractor.Extract(callCtx, conversation.ExtractionRequest{
			Message: msg,
			Intent:  conversation.IntentBook,
			History: history,
			Known:   known,
		})
		cancel()
		if err != nil {
			fmt.Printf("    ❌ Extraction error on %q: %v\n", msg, err)
			return false
		}
		known = known.Merge(update)
		out, _ := json.Marshal(update)
		fmt.Printf("    %q -> %s (%v)\n", msg, out, time.Since(start).Round(time.Millisecond))
		history = append(history,
			conversation.ChatMessage{Role: conversation.ChatRoleUser, Content: msg},
		)
	}

	if missing := known.MissingForBooking(); len(missing) > 0 {
		fmt.Printf("    ⚠️  Still missing after all turns: %s\n", strings.Join(missing, ", "))
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.LLMTimeout)
	defer cancel()
	reply, err := responder.Respond(callCtx, conversation.TurnContext{
		Message:  sampleTurns[len(sampleTurns)-1],
		Intent:   conversation.IntentBook,
		Entities: known,
		History:  history,
	})
	if err != nil {
		fmt.Printf("    ❌ Response error: %v\n", err)
		return false
	}
	fmt.Printf("    ✅ Reply: %s\n", reply)
	return true
}
