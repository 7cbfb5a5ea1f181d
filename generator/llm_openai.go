package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"brand_hero_content/logging"
)

const defaultMaxToolRounds = 8

// OpenAIInvoker implements Invoker on the Responses API. Tool calls are
// answered through the request's ToolSet and chained by previous_response_id;
// the id of the last response is the turn handle.
type OpenAIInvoker struct {
	client        openai.Client
	model         string
	maxToolRounds int
	logger        *slog.Logger
}

func NewOpenAIInvokerFromConfig(cfg *LLMSettings, logger *slog.Logger) (*OpenAIInvoker, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide llm.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.CallTimeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.CallTimeoutSeconds)*time.Second))
	}
	return NewOpenAIInvoker(cfg.Model, cfg.MaxToolRounds, logger, opts...), nil
}

func NewOpenAIInvoker(model string, maxToolRounds int, logger *slog.Logger, opts ...option.RequestOption) *OpenAIInvoker {
	if maxToolRounds <= 0 {
		maxToolRounds = defaultMaxToolRounds
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &OpenAIInvoker{
		client:        openai.NewClient(opts...),
		model:         model,
		maxToolRounds: maxToolRounds,
		logger:        logger,
	}
}

func (o *OpenAIInvoker) InvokeTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	input := req.Input
	if strings.TrimSpace(input) == "" {
		// the API rejects an empty input; a fresh turn still needs a user message
		input = "Begin."
	}
	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}
	if req.PreviousHandle != "" {
		params.PreviousResponseID = openai.String(req.PreviousHandle)
	}
	if req.Tools != nil {
		params.Tools = toolParams(req.Tools)
	}

	for round := 0; ; round++ {
		resp, err := o.client.Responses.New(ctx, params)
		if err != nil {
			return TurnResult{}, fmt.Errorf("%w: responses.create: %w", ErrUpstreamUnavailable, err)
		}
		calls := functionCalls(resp)
		if len(calls) == 0 || req.Tools == nil {
			return TurnResult{Output: resp.OutputText(), Handle: resp.ID}, nil
		}
		if round >= o.maxToolRounds {
			o.logger.Warn("tool rounds exhausted", "stage", req.Stage, "rounds", round, "pending", len(calls))
			return TurnResult{Output: resp.OutputText(), Handle: resp.ID}, nil
		}

		items := make(responses.ResponseInputParam, 0, len(calls))
		for _, call := range calls {
			out := req.Tools.Dispatch(ctx, call.Name, call.Arguments)
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(call.CallID, out))
		}
		params.Input = responses.ResponseNewParamsInputUnion{OfInputItemList: items}
		params.PreviousResponseID = openai.String(resp.ID)
	}
}

type functionCall struct {
	Name      string
	Arguments string
	CallID    string
}

func functionCalls(resp *responses.Response) []functionCall {
	if resp == nil {
		return nil
	}
	var calls []functionCall
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		calls = append(calls, functionCall{Name: item.Name, Arguments: item.Arguments, CallID: item.CallID})
	}
	return calls
}

func toolParams(set *ToolSet) []responses.ToolUnionParam {
	tools := set.Tools()
	out := make([]responses.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		// optional parameters rule out strict schemas
		p := responses.ToolParamOfFunction(t.Name, t.Schema(), false)
		if t.Description != "" {
			p.OfFunction.Description = openai.String(t.Description)
		}
		out = append(out, p)
	}
	return out
}
