// cmd/analyzer-classify is an optional, policy-gated reference
// backend: it forwards a text child's contents to a hosted model and
// attaches whatever classification symbols the model returns. The
// core never parses anything from the response beyond that symbol
// list - analyzer backends are external collaborators, symbols are
// the only contract. Grounded on the teacher's
// internal/services/llm/claude_service.go (anthropic-sdk-go) and
// gemini_service.go (google.golang.org/genai) as an explicit fallback.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
	"google.golang.org/genai"

	"github.com/ternarybob/ctxpipe/internal/wireproto"
)

var (
	addr          = flag.String("addr", "127.0.0.1:9105", "Listen address")
	provider      = flag.String("provider", "anthropic", "Classification provider: anthropic or gemini")
	anthropicKey  = flag.String("anthropic-api-key", "", "Anthropic API key (defaults to ANTHROPIC_API_KEY env)")
	anthropicMod  = flag.String("anthropic-model", "claude-sonnet-4-20250514", "Anthropic model name")
	googleAPIKey  = flag.String("google-api-key", "", "Google API key (defaults to GOOGLE_API_KEY env)")
	geminiModel   = flag.String("gemini-model", "gemini-2.0-flash", "Gemini model name")
	requestTimeout = flag.Duration("request-timeout", 30*time.Second, "Model call timeout")
)

const classifyPrompt = `Classify the following content. Respond with ONLY a JSON object of the form {"symbols": ["SYMBOL_ONE", "SYMBOL_TWO"]} naming zero or more of: PII_LIKELY, INVOICE, CONTRACT, RESUME, SOURCE_CODE, SPAM. Content:

`

type classifier interface {
	Classify(ctx context.Context, text string) ([]string, error)
}

func main() {
	flag.Parse()

	logger := arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	})

	var c classifier
	var err error
	switch *provider {
	case "gemini":
		c, err = newGeminiClassifier(*googleAPIKey, *geminiModel)
	default:
		c, err = newAnthropicClassifier(*anthropicKey, *anthropicMod)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize classification provider")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	logger.Info().Str("addr", *addr).Str("provider", *provider).Msg("analyzer-classify ready")
	if err := wireproto.ListenAndServe(ctx, *addr, logger, func(ctx context.Context, req wireproto.BackendRequest) (wireproto.BackendReply, error) {
		return analyze(ctx, req, c, logger)
	}); err != nil {
		logger.Fatal().Err(err).Msg("analyzer-classify stopped")
	}
}

func analyze(ctx context.Context, req wireproto.BackendRequest, c classifier, logger arbor.ILogger) (wireproto.BackendReply, error) {
	data, err := os.ReadFile(req.ObjectPath)
	if err != nil {
		return wireproto.BackendReply{Symbols: []string{"CLASSIFY_UNREADABLE"}}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, *requestTimeout)
	defer cancel()

	symbols, err := c.Classify(callCtx, string(data))
	if err != nil {
		logger.Warn().Err(err).Msg("analyzer-classify: model call failed")
		return wireproto.BackendReply{Symbols: []string{"CLASSIFY_FAILED"}}, nil
	}

	return wireproto.BackendReply{Symbols: symbols}, nil
}

// classifyResponse is the only shape this backend ever parses out of a
// model's reply - the core treats everything else as opaque.
type classifyResponse struct {
	Symbols []string `json:"symbols"`
}

func parseSymbols(text string) []string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return nil
	}
	var resp classifyResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &resp); err != nil {
		return nil
	}
	return resp.Symbols
}

type anthropicClassifier struct {
	client *anthropic.Client
	model  string
}

func newAnthropicClassifier(apiKey, model string) (*anthropicClassifier, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: no API key configured")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &anthropicClassifier{client: client, model: model}, nil
}

func (a *anthropicClassifier) Classify(ctx context.Context, text string) ([]string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(classifyPrompt + text)),
		},
	}
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			out.WriteString(block.Text)
		}
	}
	return parseSymbols(out.String()), nil
}

type geminiClassifier struct {
	client *genai.Client
	model  string
}

func newGeminiClassifier(apiKey, model string) (*geminiClassifier, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: no API key configured")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: init client: %w", err)
	}
	return &geminiClassifier{client: client, model: model}, nil
}

func (g *geminiClassifier) Classify(ctx context.Context, text string) ([]string, error) {
	contents := []*genai.Content{genai.NewContentFromText(classifyPrompt+text, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	var out strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			for _, part := range candidate.Content.Parts {
				out.WriteString(part.Text)
			}
		}
	}
	return parseSymbols(out.String()), nil
}
