package generator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
)

func TestOpenAIInvokerToolLoop(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/responses") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(raw))
		n := len(bodies)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "resp_1", "object": "response", "model": "gpt-test",
				"output": []any{map[string]any{
					"type": "function_call", "id": "fc_1", "call_id": "call_1",
					"name": "echo", "arguments": `{"text":"hi"}`, "status": "completed",
				}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "resp_2", "object": "response", "model": "gpt-test",
			"output": []any{map[string]any{
				"type": "message", "id": "msg_1", "role": "assistant", "status": "completed",
				"content": []any{map[string]any{"type": "output_text", "text": "done", "annotations": []any{}}},
			}},
		})
	}))
	defer srv.Close()

	inv := NewOpenAIInvoker("gpt-test", 4, nil,
		option.WithAPIKey("test"),
		option.WithBaseURL(srv.URL+"/v1/"),
		option.WithMaxRetries(0),
	)
	tools := NewToolSet(nil, echoTool())
	res, err := inv.InvokeTurn(context.Background(), TurnRequest{
		Stage:          StageEdit,
		Instructions:   "be brief",
		Input:          "hello",
		Tools:          tools,
		PreviousHandle: "resp_0",
	})
	if err != nil {
		t.Fatalf("InvokeTurn: %v", err)
	}
	if res.Text() != "done" || res.Handle != "resp_2" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected two requests, got %d", len(bodies))
	}

	first := gjson.Parse(bodies[0])
	if first.Get("previous_response_id").String() != "resp_0" || first.Get("input").String() != "hello" {
		t.Fatalf("unexpected first request: %s", bodies[0])
	}
	if first.Get("tools.0.name").String() != "echo" || first.Get("instructions").String() != "be brief" {
		t.Fatalf("tools or instructions missing: %s", bodies[0])
	}
	second := gjson.Parse(bodies[1])
	if second.Get("previous_response_id").String() != "resp_1" {
		t.Fatalf("tool round not chained: %s", bodies[1])
	}
	if second.Get("input.0.type").String() != "function_call_output" || second.Get("input.0.call_id").String() != "call_1" {
		t.Fatalf("tool output not returned: %s", bodies[1])
	}
	if !strings.Contains(second.Get("input.0.output").String(), "hi|") {
		t.Fatalf("tool result not forwarded: %s", bodies[1])
	}
	if !tools.Called("echo") {
		t.Fatalf("dispatcher did not record the call")
	}
}

func TestOpenAIInvokerWrapsErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inv := NewOpenAIInvoker("gpt-test", 0, nil,
		option.WithAPIKey("test"),
		option.WithBaseURL(srv.URL+"/v1/"),
		option.WithMaxRetries(0),
	)
	_, err := inv.InvokeTurn(context.Background(), TurnRequest{Input: ""})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestNewOpenAIInvokerFromConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewOpenAIInvokerFromConfig(&LLMSettings{Model: "m"}, nil); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := NewOpenAIInvokerFromConfig(&LLMSettings{APIKey: "k"}, nil); err == nil {
		t.Fatalf("expected error without model")
	}
	inv, err := NewOpenAIInvokerFromConfig(&LLMSettings{APIKey: "k", Model: "m", CallTimeoutSeconds: 5}, nil)
	if err != nil || inv.maxToolRounds != defaultMaxToolRounds {
		t.Fatalf("unexpected invoker: %+v %v", inv, err)
	}
}
