package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockToolCall 脚本化轮次在回答前发起的工具调用。
type MockToolCall struct {
	Name      string
	Arguments string
}

// MockTurn 描述 MockInvoker 的一个轮次。
type MockTurn struct {
	Output    any
	Handle    string
	Err       error
	ToolCalls []MockToolCall
}

// MockInvoker 一个可编排的 Invoker，不调用外部模型。按顺序取 Script 中的轮次，
// 用完后交给 Respond（如有）。每次请求都会被记录。
type MockInvoker struct {
	Script  []MockTurn
	Respond func(req TurnRequest) MockTurn

	mu          sync.Mutex
	next        int
	calls       []TurnRequest
	toolResults []string
}

func (m *MockInvoker) InvokeTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	var turn MockTurn
	switch {
	case m.next < len(m.Script):
		turn = m.Script[m.next]
		m.next++
	case m.Respond != nil:
		respond := m.Respond
		m.mu.Unlock()
		turn = respond(req)
		m.mu.Lock()
	default:
		m.mu.Unlock()
		return TurnResult{}, fmt.Errorf("mock invoker: no scripted turn for stage %q", req.Stage)
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return TurnResult{}, err
	}
	for _, call := range turn.ToolCalls {
		out := req.Tools.Dispatch(ctx, call.Name, call.Arguments)
		m.mu.Lock()
		m.toolResults = append(m.toolResults, out)
		m.mu.Unlock()
	}
	if turn.Err != nil {
		return TurnResult{}, turn.Err
	}
	return TurnResult{Output: turn.Output, Handle: turn.Handle}, nil
}

// Calls 返回已记录的请求。
func (m *MockInvoker) Calls() []TurnRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TurnRequest(nil), m.calls...)
}

// CallsFor 返回某个阶段的请求。
func (m *MockInvoker) CallsFor(stage string) []TurnRequest {
	var out []TurnRequest
	for _, c := range m.Calls() {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

// ToolResults 返回分发器对脚本化工具调用的回复。
func (m *MockInvoker) ToolResults() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.toolResults...)
}

// MockImages 返回固定 URL；提示词包含 FailOn 时返回错误。
type MockImages struct {
	URL    string
	FailOn string

	mu      sync.Mutex
	prompts []string
}

func (m *MockImages) GenerateImage(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.FailOn != "" && strings.Contains(prompt, m.FailOn) {
		return "", fmt.Errorf("%w: mock image failure", ErrUpstreamUnavailable)
	}
	return m.URL, nil
}

func (m *MockImages) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// DemoResponder 为每个阶段返回格式正确的示例输出，便于在没有模型时运行 CLI 和服务。
func DemoResponder(req TurnRequest) MockTurn {
	handle := "demo_" + req.Stage
	switch req.Stage {
	case StageResearch:
		return MockTurn{Handle: handle, Output: `{"company_analysis":"A local brand with a loyal audience.","trends":["Short video","Behind the scenes"],"competition":{"summary":"Crowded market"}}`}
	case StageContent:
		return MockTurn{Handle: handle, Output: "```json\n[" +
			`{"content":"Fresh from our kitchen to your table.","hashtags":["#fresh","local"],"call_to_action":"Order today!"},` +
			`{"content":"Meet the team behind every order.","hashtags":["team"],"call_to_action":"Say hello!"},` +
			`{"content":"Our new seasonal menu is here.","hashtags":["seasonal","menu"],"call_to_action":"See the menu"}` +
			"]\n```"}
	case StageImage, StageBrandHeroImage:
		return MockTurn{Handle: handle, Output: "A sunlit kitchen counter with the brand hero presenting the dish."}
	case StageStrategy:
		return MockTurn{Handle: handle, Output: `{"goals":["Grow local reach"],"topics":["Seasonal dishes"],"tone":"Warm","target_audience":["Neighbours"],"post_count":3,"content_types":["Image posts"],"schedule":{"Monday":1,"Thursday":2},"rationale":"Demo plan."}`}
	case StageCompetitors:
		return MockTurn{Handle: handle, Output: `{"Rival Co":"Posts daily promotions"}`}
	case StageBrandHeroDigest:
		return MockTurn{Handle: handle, Output: "A cheerful chef mascot in a red apron."}
	default:
		return MockTurn{Handle: handle, Output: "Could you tell me a bit more about what you would like to change?"}
	}
}
