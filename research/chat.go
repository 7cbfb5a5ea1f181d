// Package research fetches trend and news signals for the research and
// strategy stages.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"brand_hero_content/generator"
	"brand_hero_content/logging"
)

const (
	defaultSignalModel = "sonar"
	defaultMaxItems    = 10
)

var numberedLine = regexp.MustCompile(`\d+\.\s*(.+)`)

// ChatSettings configures a search-capable chat model (Perplexity or any
// OpenAI-compatible gateway).
type ChatSettings struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
	MaxItems       int
}

// ChatSignals asks a search model for a numbered list and returns its items.
type ChatSignals struct {
	client   openai.Client
	model    string
	maxItems int
	logger   *slog.Logger
}

var _ generator.SignalSource = (*ChatSignals)(nil)

func NewChatSignalsFromConfig(cfg ChatSettings, logger *slog.Logger) (*ChatSignals, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("signals api key missing; provide signals.api_key or PERPLEXITY_API_KEY")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 20
	}
	opts = append(opts, option.WithRequestTimeout(time.Duration(timeout)*time.Second))
	return NewChatSignals(cfg.Model, cfg.MaxItems, logger, opts...), nil
}

func NewChatSignals(model string, maxItems int, logger *slog.Logger, opts ...option.RequestOption) *ChatSignals {
	if model == "" {
		model = defaultSignalModel
	}
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &ChatSignals{client: openai.NewClient(opts...), model: model, maxItems: maxItems, logger: logger}
}

func (c *ChatSignals) FetchSignal(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: signal query is empty", generator.ErrValidation)
	}
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("Be concise."),
			openai.UserMessage(query + "\nFormat as a numbered list."),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: signal search: %w", generator.ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: signal search returned no choices", generator.ErrUpstreamUnavailable)
	}
	content := resp.Choices[0].Message.Content
	items := ParseList(content, c.maxItems)
	c.logger.Debug("signal search", "query", logging.Truncate(query, 128), "items", len(items))
	return items, nil
}

// ParseList extracts numbered items, falling back to non-blank lines when the
// text has no numbering.
func ParseList(content string, limit int) []string {
	var items []string
	for _, m := range numberedLine.FindAllStringSubmatch(content, -1) {
		if item := strings.TrimSpace(m[1]); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		for _, line := range strings.Split(content, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				items = append(items, line)
			}
		}
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
