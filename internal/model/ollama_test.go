package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/klubi/scout/internal/agent"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// fakeOllama serves /api/chat, records each request and answers with the
// reply returned by respond.
type fakeOllama struct {
	mu       sync.Mutex
	requests []ollamaChatRequest
	respond  func(n int, req ollamaChatRequest) (int, string)
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
		http.NotFound(w, r)
		return
	}
	var req ollamaChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()

	status, body := f.respond(n, req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func newOllamaClient(t *testing.T, f *fakeOllama) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(NewOllamaChat(srv.URL+"/", "llama3.1", srv.Client()), zap.NewNop())
}

func TestOllamaToolRound(t *testing.T) {
	f := &fakeOllama{respond: func(n int, req ollamaChatRequest) (int, string) {
		if n == 1 {
			return http.StatusOK, `{"model":"llama3.1","done":true,"message":{"role":"assistant","content":"",
				"tool_calls":[{"function":{"name":"nmap","arguments":{"target":"10.10.10.5","ports":"22,80"}}}]}}`
		}
		return http.StatusOK, `{"model":"llama3.1","done":true,"done_reason":"stop","message":{"role":"assistant","content":"<think>ok</think>SSH and HTTP are open."}}`
	}}
	c := newOllamaClient(t, f)

	req := testRequest(t)
	req.Turns = req.Turns[:2]

	// Round 1: tools offered, tool call returned.
	out, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("round 1: %v", err)
	}
	if len(out.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(out.ToolCalls))
	}
	call := out.ToolCalls[0]
	if call.Name != "nmap" || !strings.HasPrefix(call.ID, "call_") {
		t.Errorf("unexpected tool call %+v", call)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || args["ports"] != "22,80" {
		t.Errorf("expected JSON object arguments, got %q (%v)", call.Arguments, err)
	}

	first := f.requests[0]
	if first.Model != "llama3.1" || first.Stream {
		t.Errorf("unexpected model %q or streaming %v", first.Model, first.Stream)
	}
	if len(first.Tools) != 5 || first.Tools[0].Function.Name != "nmap" || first.Tools[0].Type != "function" {
		t.Errorf("expected five function tools, got %+v", first.Tools)
	}
	if first.Tools[0].Function.Parameters == nil {
		t.Error("expected tool parameters schema")
	}

	// Round 2: the assistant call and the tool result are replayed.
	req.Turns = append(req.Turns,
		v1alpha1.Turn{Role: v1alpha1.RoleAssistant, ToolCalls: out.ToolCalls},
		v1alpha1.Turn{Role: v1alpha1.RoleTool, ToolName: "nmap", ToolCallID: call.ID, Content: "22/tcp open ssh\n80/tcp open http"},
	)
	out, err = c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("round 2: %v", err)
	}
	if len(out.ToolCalls) != 0 || out.Content != "SSH and HTTP are open." {
		t.Errorf("expected cleaned final answer, got %+v", out)
	}

	msgs := f.requests[1].Messages
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	roles := []string{"system", "user", "assistant", "tool"}
	for i, want := range roles {
		if msgs[i].Role != want {
			t.Errorf("message %d: expected role %s, got %s", i, want, msgs[i].Role)
		}
	}
	assistant := msgs[2]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Function.Name != "nmap" {
		t.Fatalf("expected replayed tool call, got %+v", assistant)
	}
	if got := string(assistant.ToolCalls[0].Function.Arguments); !strings.HasPrefix(got, "{") {
		t.Errorf("expected object arguments, got %s", got)
	}
	if msgs[3].ToolName != "nmap" || !strings.Contains(msgs[3].Content, "80/tcp open http") {
		t.Errorf("unexpected tool message %+v", msgs[3])
	}
}

func TestOllamaErrorStatus(t *testing.T) {
	f := &fakeOllama{respond: func(int, ollamaChatRequest) (int, string) {
		return http.StatusNotFound, `{"error":"model \"llama3.1\" not found, try pulling it first"}`
	}}
	_, err := newOllamaClient(t, f).Complete(context.Background(), testRequest(t))
	if err == nil || !strings.Contains(err.Error(), "not found, try pulling it first") {
		t.Fatalf("expected ollama error message, got %v", err)
	}
}

func TestOllamaInvalidArgumentsSentAsObject(t *testing.T) {
	msgs, err := toOllamaMessages(toMessages([]v1alpha1.Turn{{
		Role:      v1alpha1.RoleAssistant,
		ToolCalls: []v1alpha1.ToolCall{{ID: "c1", Name: "nmap", Arguments: "not json"}},
	}})[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(msgs[0].ToolCalls[0].Function.Arguments); got != "{}" {
		t.Errorf("expected {}, got %s", got)
	}
}

func TestOllamaAcceptsToolHistory(t *testing.T) {
	f := &fakeOllama{respond: func(n int, req ollamaChatRequest) (int, string) {
		if n == 1 {
			return http.StatusOK, `{"done":true,"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"whatweb","arguments":{"url":"http://10.10.10.5"}}}]}}`
		}
		return http.StatusOK, `{"done":true,"message":{"role":"assistant","content":"Apache 2.4."}}`
	}}
	var m agent.Model = newOllamaClient(t, f)

	out, err := m.Complete(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "whatweb" {
		t.Errorf("unexpected reply %+v", out)
	}
	// A conversation holding a tool call and a tool result must be accepted.
	if len(f.requests) != 1 || len(f.requests[0].Messages) != 4 {
		t.Errorf("expected full conversation sent, got %+v", f.requests)
	}
}
