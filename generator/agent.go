package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"brand_hero_content/logging"
)

const stageLogLimit = 512

// 阶段名，同时作为 TurnRequest.Stage。
const (
	StageResearch        = "research"
	StageCompetitors     = "competitors"
	StageContent         = "content"
	StageImage           = "image"
	StageEdit            = "edit"
	StageStrategy        = "strategy"
	StageCompanyContext  = "company_context"
	StageBrandHero       = "brand_hero"
	StageBrandHeroImage  = "brand_hero_image"
	StageBrandHeroDigest = "brand_hero_digest"
)

// Step 一次阶段调用：提示词、可选工具和上一轮 handle。
type Step struct {
	Stage          string
	Prompt         Prompt
	Tools          *ToolSet
	PreviousHandle string
}

// Agent 负责把阶段调用绑定到模型轮次并记录每次调用。
// 它不写存储，持久化由编排层负责。
type Agent struct {
	invoker     Invoker
	extractor   *Extractor
	logger      *slog.Logger
	model       string
	callTimeout time.Duration
}

type AgentOption func(*Agent)

func WithAgentLogger(logger *slog.Logger) AgentOption {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithModel 覆盖 Invoker 的默认模型。
func WithModel(model string) AgentOption {
	return func(a *Agent) { a.model = model }
}

// WithCallTimeout 限制不带工具的轮次；带工具的轮次由 Invoker 按请求限时。
func WithCallTimeout(d time.Duration) AgentOption {
	return func(a *Agent) { a.callTimeout = d }
}

func NewAgent(invoker Invoker, opts ...AgentOption) (*Agent, error) {
	if invoker == nil {
		return nil, errors.New("model invoker is required")
	}
	a := &Agent{invoker: invoker, logger: logging.Discard(), callTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	a.extractor = NewExtractor(a.logger.With("component", "extractor"))
	return a, nil
}

// Extractor 返回 Agent 使用的输出解析器。
func (a *Agent) Extractor() *Extractor {
	return a.extractor
}

// Logger 返回 Agent 的日志器，编排层共用。
func (a *Agent) Logger() *slog.Logger {
	return a.logger
}

// Run 执行一次轮次，Invoker 的错误包装为 ErrUpstreamUnavailable。
func (a *Agent) Run(ctx context.Context, step Step) (TurnResult, error) {
	if step.Tools == nil && a.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
	}
	start := time.Now()
	res, err := a.invoker.InvokeTurn(ctx, TurnRequest{
		Stage:          step.Stage,
		Instructions:   step.Prompt.Instructions,
		Input:          step.Prompt.Input,
		Tools:          step.Tools,
		Model:          a.model,
		PreviousHandle: step.PreviousHandle,
	})
	elapsed := time.Since(start)
	if err != nil {
		a.logger.Warn("stage turn failed",
			"stage", step.Stage,
			"input", logging.Truncate(step.Prompt.Input, stageLogLimit),
			"elapsed", elapsed,
			"error", err,
		)
		if errors.Is(err, ErrUpstreamUnavailable) {
			return TurnResult{}, err
		}
		return TurnResult{}, fmt.Errorf("%s turn: %w: %w", step.Stage, ErrUpstreamUnavailable, err)
	}
	a.logger.Info("stage turn",
		"stage", step.Stage,
		"input", logging.Truncate(step.Prompt.Input, stageLogLimit),
		"output", logging.Truncate(res.Text(), stageLogLimit),
		"handle", res.Handle,
		"elapsed", elapsed,
	)
	return res, nil
}
