package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"brand_hero_content/store"
)

const (
	maxTrends = 10
	maxNews   = 5
)

var (
	fallbackTrends = []string{"Content marketing", "Social engagement", "Video content"}
	fallbackNews   = []string{"Industry trends"}
)

// StrategyService proposes and stores a company's posting strategy.
type StrategyService struct {
	agent   *Agent
	docs    DocumentStore
	trends  SignalSource
	news    SignalSource
	logger  *slog.Logger
	timeout time.Duration
}

// NewStrategyService wires the service; either signal source may be nil and
// then contributes its fixed fallback list.
func NewStrategyService(agent *Agent, docs DocumentStore, trends, news SignalSource, timeout time.Duration) (*StrategyService, error) {
	if agent == nil || docs == nil {
		return nil, errors.New("agent and document store are required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StrategyService{
		agent:   agent,
		docs:    docs,
		trends:  trends,
		news:    news,
		logger:  agent.Logger().With("component", "strategy"),
		timeout: timeout,
	}, nil
}

// Propose drafts a strategy from the company context and fresh signals. A
// failed model turn yields FallbackStrategy rather than an error.
func (s *StrategyService) Propose(ctx context.Context, companyID string) (Strategy, error) {
	companyContext, err := s.companyContext(ctx, companyID)
	if err != nil {
		return Strategy{}, err
	}
	subject := clip(companyContext, 300)
	trends := s.signal(ctx, s.trends, "Top social media trends for: "+subject, maxTrends, fallbackTrends)
	news := s.signal(ctx, s.news, "Latest industry news for: "+subject, maxNews, fallbackNews)

	res, err := s.agent.Run(ctx, Step{Stage: StageStrategy, Prompt: BuildStrategyPrompt(companyContext, trends, news)})
	if err != nil {
		s.logger.Warn("strategy turn failed; using default strategy", "company", companyID, "error", err)
		return FallbackStrategy(), nil
	}
	return s.agent.Extractor().Strategy(StageStrategy, res.Output), nil
}

// Save supersedes the stored strategy.
func (s *StrategyService) Save(ctx context.Context, companyID string, strategy Strategy) error {
	if strings.TrimSpace(companyID) == "" {
		return fmt.Errorf("%w: company id is required", ErrValidation)
	}
	if err := s.docs.UpsertDocument(ctx, store.CollectionStrategies, companyID, strategy.Fields()); err != nil {
		return fmt.Errorf("%w: save strategy: %w", ErrPersistence, err)
	}
	return nil
}

// Load returns the stored strategy.
func (s *StrategyService) Load(ctx context.Context, companyID string) (Strategy, error) {
	if strings.TrimSpace(companyID) == "" {
		return Strategy{}, fmt.Errorf("%w: company id is required", ErrValidation)
	}
	doc, ok, err := s.docs.GetDocument(ctx, store.CollectionStrategies, companyID)
	if err != nil {
		return Strategy{}, fmt.Errorf("%w: load strategy: %w", ErrPersistence, err)
	}
	if !ok {
		return Strategy{}, fmt.Errorf("%w: strategy for %s", ErrNotFound, companyID)
	}
	return s.agent.Extractor().Strategy(StageStrategy, doc), nil
}

func (s *StrategyService) companyContext(ctx context.Context, companyID string) (string, error) {
	if strings.TrimSpace(companyID) == "" {
		return "", fmt.Errorf("%w: company id is required", ErrValidation)
	}
	doc, ok, err := s.docs.GetDocument(ctx, store.CollectionCompanyContext, companyID)
	if err != nil {
		return "", fmt.Errorf("%w: load company context: %w", ErrPersistence, err)
	}
	text := docString(doc, "context_description")
	if !ok || text == "" {
		return "", fmt.Errorf("%w: company context for %s", ErrNotFound, companyID)
	}
	return text, nil
}

func (s *StrategyService) signal(ctx context.Context, src SignalSource, query string, limit int, fallback []string) []string {
	if src == nil {
		return append([]string(nil), fallback...)
	}
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	lines, err := src.FetchSignal(sctx, query)
	if err != nil || len(lines) == 0 {
		s.logger.Warn("signal lookup fell back", "query", query, "error", err)
		return append([]string(nil), fallback...)
	}
	return capList(lines, limit)
}

func capList(lines []string, limit int) []string {
	out := make([]string, 0, min(len(lines), limit))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == limit {
			break
		}
	}
	return out
}

// researchTools is the palette of the research turn.
func researchTools(agent *Agent, signals SignalSource, timeout time.Duration) []Tool {
	return []Tool{
		{
			Name:        "search_trends",
			Description: "Search current social media trends for an industry or topic.",
			Params:      []Param{{Name: "topic", Type: ParamString, Description: "Industry or topic", Required: true}},
			Handler: func(ctx context.Context, args Args) (any, error) {
				if signals == nil {
					return nil, fmt.Errorf("%w: trend search is not configured", ErrUpstreamUnavailable)
				}
				sctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				lines, err := signals.FetchSignal(sctx, "Top social media trends for: "+args.String("topic"))
				if err != nil {
					return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
				}
				return capList(lines, maxTrends), nil
			},
		},
		{
			Name:        "search_competitors",
			Description: "Describe the main competitors of a company and their social media positioning.",
			Params:      []Param{{Name: "company", Type: ParamString, Description: "Company name or description", Required: true}},
			Handler: func(ctx context.Context, args Args) (any, error) {
				res, err := agent.Run(ctx, Step{Stage: StageCompetitors, Prompt: BuildCompetitorPrompt(args.String("company"))})
				if err != nil {
					return nil, err
				}
				if rec, ok := agent.Extractor().Record(StageCompetitors, res.Output); ok {
					findings := map[string]any{}
					if err := json.Unmarshal([]byte(rec.Raw), &findings); err == nil {
						return findings, nil
					}
				}
				return res.Text(), nil
			},
		},
	}
}
