/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package claudeexecutor_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chainguard.dev/agentspans/agents/agenttrace"
	"chainguard.dev/agentspans/agents/executor/claudeexecutor"
	"chainguard.dev/agentspans/agents/executor/retry"
	"chainguard.dev/agentspans/agents/hooks"
	"chainguard.dev/agentspans/agents/invocation"
	"chainguard.dev/agentspans/agents/message"
	"chainguard.dev/agentspans/agents/metrics"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/go-cmp/cmp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type reply struct {
	status int
	body   string
}

// fakeClaude serves scripted Messages API replies and records request bodies.
type fakeClaude struct {
	t       *testing.T
	mu      sync.Mutex
	replies []reply
	bodies  []map[string]any
}

func (f *fakeClaude) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
		http.NotFound(w, r)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		f.t.Errorf("reading request: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		f.t.Errorf("decoding request: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	if len(f.replies) == 0 {
		f.t.Error("unexpected request: no scripted replies left")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(next.status)
	_, _ = io.WriteString(w, next.body)
}

func (f *fakeClaude) requests() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies
}

func textReply(text string) reply {
	return reply{status: http.StatusOK, body: fmt.Sprintf(`{
		"id": "msg_text", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
		"content": [{"type": "text", "text": %q}],
		"stop_reason": "end_turn", "stop_sequence": null,
		"usage": {"input_tokens": 12, "output_tokens": 4}
	}`, text)}
}

func toolReply(id, name, input string) reply {
	return reply{status: http.StatusOK, body: fmt.Sprintf(`{
		"id": "msg_tool", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
		"content": [
			{"type": "text", "text": "Let me look."},
			{"type": "tool_use", "id": %q, "name": %q, "input": %s}
		],
		"stop_reason": "tool_use", "stop_sequence": null,
		"usage": {"input_tokens": 10, "output_tokens": 6}
	}`, id, name, input)}
}

func errorReply(status int, kind string) reply {
	return reply{status: status, body: fmt.Sprintf(`{"type": "error", "error": {"type": %q, "message": "try later"}}`, kind)}
}

func newExecutor(t *testing.T, replies []reply, opts ...claudeexecutor.Option) (*claudeexecutor.Executor, *fakeClaude) {
	t.Helper()
	fake := &fakeClaude{t: t, replies: replies}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := anthropic.NewClient(
		option.WithBaseURL(srv.URL),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
	opts = append([]claudeexecutor.Option{
		claudeexecutor.WithRetryConfig(retry.Config{MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
	}, opts...)
	e, err := claudeexecutor.New(client, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, fake
}

type readInput struct {
	Path string `json:"path" jsonschema:"required"`
}

func readTool(t *testing.T, fn func(context.Context, readInput) (any, error)) claudeexecutor.Tool {
	t.Helper()
	tool, err := claudeexecutor.NewTool("read_file", "Read a file", fn)
	if err != nil {
		t.Fatalf("NewTool: %v", err)
	}
	return tool
}

// recorder logs every hook invocation as "Event[:toolUseID][:detail]".
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) config() hooks.Config {
	cb := func(_ context.Context, in *hooks.Input, id string) (hooks.Output, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		e := string(in.Event)
		if id != "" {
			e += ":" + id
		}
		switch {
		case in.Error != "":
			e += ":" + in.Error
		case in.Event == hooks.Stop:
			e += ":" + in.Reason
		}
		r.events = append(r.events, e)
		return hooks.Continue(), nil
	}
	cfg := hooks.Config{}
	for _, ev := range hooks.Events {
		cfg[ev] = []hooks.Matcher{{Hooks: []hooks.Callback{cb}}}
	}
	return cfg
}

func drain(t *testing.T, seq func(func(message.Message, error) bool)) ([]message.Message, error) {
	t.Helper()
	var msgs []message.Message
	for m, err := range seq {
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// lastToolResult returns the first tool_result block of the last user message.
func lastToolResult(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	msgs, _ := body["messages"].([]any)
	if len(msgs) == 0 {
		t.Fatal("request has no messages")
	}
	last, _ := msgs[len(msgs)-1].(map[string]any)
	content, _ := last["content"].([]any)
	if len(content) == 0 {
		t.Fatalf("last message has no content: %v", last)
	}
	block, _ := content[0].(map[string]any)
	if block["type"] != "tool_result" {
		t.Fatalf("last block: got = %v, wanted a tool_result", block)
	}
	return block
}

func toolResultText(block map[string]any) string {
	parts, _ := block["content"].([]any)
	var texts []string
	for _, p := range parts {
		if m, ok := p.(map[string]any); ok {
			if s, ok := m["text"].(string); ok {
				texts = append(texts, s)
			}
		}
	}
	return strings.Join(texts, "")
}

func TestStreamToolLoop(t *testing.T) {
	var gotPath string
	tool := readTool(t, func(_ context.Context, in readInput) (any, error) {
		gotPath = in.Path
		return "hi", nil
	})
	e, fake := newExecutor(t, []reply{
		toolReply("toolu_1", "read_file", `{"path": "a.txt"}`),
		textReply("The file says hi."),
	}, claudeexecutor.WithTools(tool), claudeexecutor.WithSystemPrompt("Be brief."))

	rec := &recorder{}
	msgs, err := drain(t, e.Stream(context.Background(), "What is in a.txt?", rec.config()))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got := len(msgs); got != 3 {
		t.Fatalf("messages: got = %d, wanted = 3", got)
	}

	first, ok := msgs[0].(*message.Turn)
	if !ok {
		t.Fatalf("msgs[0]: got = %T, wanted *message.Turn", msgs[0])
	}
	if got := len(first.ToolUses()); got != 1 {
		t.Errorf("tool uses: got = %d, wanted = 1", got)
	}
	if got, wanted := first.Model, "claude-sonnet-4-5"; got != wanted {
		t.Errorf("model: got = %q, wanted = %q", got, wanted)
	}

	res, ok := msgs[2].(*message.Result)
	if !ok {
		t.Fatalf("msgs[2]: got = %T, wanted *message.Result", msgs[2])
	}
	if !res.Success() || res.Output != "The file says hi." {
		t.Errorf("result: got = %+v, wanted a success with the final text", res)
	}
	if diff := cmp.Diff(&message.Usage{InputTokens: 22, OutputTokens: 10}, res.Usage); diff != "" {
		t.Errorf("usage: (-want, +got) = %s", diff)
	}
	if res.SessionID == "" || res.DurationMs == nil {
		t.Errorf("result: got = %+v, wanted a session id and a duration", res)
	}

	if gotPath != "a.txt" {
		t.Errorf("tool input: got = %q, wanted = %q", gotPath, "a.txt")
	}
	wantEvents := []string{"UserPromptSubmit", "PreToolUse:toolu_1", "PostToolUse:toolu_1", "Stop:end_turn"}
	if diff := cmp.Diff(wantEvents, rec.events); diff != "" {
		t.Errorf("hook events: (-want, +got) = %s", diff)
	}

	reqs := fake.requests()
	if got := len(reqs); got != 2 {
		t.Fatalf("requests: got = %d, wanted = 2", got)
	}
	if got := len(reqs[0]["tools"].([]any)); got != 1 {
		t.Errorf("tools sent: got = %d, wanted = 1", got)
	}
	if reqs[0]["system"] == nil {
		t.Error("system prompt: got = nil, wanted it sent")
	}
	result := lastToolResult(t, reqs[1])
	if got := toolResultText(result); got != "hi" {
		t.Errorf("tool result: got = %q, wanted = %q", got, "hi")
	}
	if result["is_error"] == true {
		t.Error("tool result: got is_error = true, wanted false")
	}
}

func TestStreamToolFailure(t *testing.T) {
	tool := readTool(t, func(context.Context, readInput) (any, error) {
		return nil, errors.New("permission denied")
	})
	e, fake := newExecutor(t, []reply{
		toolReply("toolu_1", "read_file", `{"path": "/etc/shadow"}`),
		textReply("I could not read it."),
	}, claudeexecutor.WithTools(tool))

	rec := &recorder{}
	if _, err := drain(t, e.Stream(context.Background(), "read it", rec.config())); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	wantEvents := []string{"UserPromptSubmit", "PreToolUse:toolu_1", "PostToolUseFailure:toolu_1:permission denied", "Stop:end_turn"}
	if diff := cmp.Diff(wantEvents, rec.events); diff != "" {
		t.Errorf("hook events: (-want, +got) = %s", diff)
	}
	result := lastToolResult(t, fake.requests()[1])
	if result["is_error"] != true {
		t.Errorf("tool result: got is_error = %v, wanted true", result["is_error"])
	}
	if got := toolResultText(result); got != `{"error":"permission denied"}` {
		t.Errorf("tool result: got = %q", got)
	}
}

func TestStreamUnknownTool(t *testing.T) {
	e, _ := newExecutor(t, []reply{
		toolReply("toolu_9", "delete_everything", `{}`),
		textReply("ok"),
	})

	rec := &recorder{}
	if _, err := drain(t, e.Stream(context.Background(), "go", rec.config())); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	want := `PostToolUseFailure:toolu_9:unknown tool: "delete_everything"`
	if got := rec.events[2]; got != want {
		t.Errorf("event: got = %q, wanted = %q", got, want)
	}
}

func TestStreamPreToolUseBlocks(t *testing.T) {
	called := false
	tool := readTool(t, func(context.Context, readInput) (any, error) {
		called = true
		return "secret", nil
	})
	e, _ := newExecutor(t, []reply{
		toolReply("toolu_1", "read_file", `{"path": "x"}`),
		textReply("fine"),
	}, claudeexecutor.WithTools(tool))

	rec := &recorder{}
	deny := hooks.Config{hooks.PreToolUse: {{
		Matcher: "read_.*",
		Hooks: []hooks.Callback{func(context.Context, *hooks.Input, string) (hooks.Output, error) {
			return hooks.Output{StopReason: "denied"}, nil
		}},
	}}}
	if _, err := drain(t, e.Stream(context.Background(), "go", hooks.Merge(rec.config(), deny))); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if called {
		t.Error("tool handler: got called, wanted blocked")
	}
	if got, want := rec.events[2], "PostToolUseFailure:toolu_1:blocked by hook: denied"; got != want {
		t.Errorf("event: got = %q, wanted = %q", got, want)
	}
}

func TestStreamPromptRejected(t *testing.T) {
	e, fake := newExecutor(t, nil)
	reject := hooks.Config{hooks.UserPromptSubmit: {{
		Hooks: []hooks.Callback{func(context.Context, *hooks.Input, string) (hooks.Output, error) {
			return hooks.Output{StopReason: "prompt blocked"}, nil
		}},
	}}}

	msgs, err := drain(t, e.Stream(context.Background(), "rm -rf /", reject))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got := len(msgs); got != 1 {
		t.Fatalf("messages: got = %d, wanted = 1", got)
	}
	res := msgs[0].(*message.Result)
	if res.Success() || res.Output != "prompt blocked" {
		t.Errorf("result: got = %+v, wanted an error carrying the stop reason", res)
	}
	if got := len(fake.requests()); got != 0 {
		t.Errorf("requests: got = %d, wanted = 0", got)
	}
}

func TestStreamRetriesOverloaded(t *testing.T) {
	e, fake := newExecutor(t, []reply{
		errorReply(529, "overloaded_error"),
		textReply("done"),
	})
	msgs, err := drain(t, e.Stream(context.Background(), "hi", nil))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got := len(msgs); got != 2 {
		t.Errorf("messages: got = %d, wanted = 2", got)
	}
	if got := len(fake.requests()); got != 2 {
		t.Errorf("requests: got = %d, wanted = 2", got)
	}
}

func TestStreamAPIError(t *testing.T) {
	e, fake := newExecutor(t, []reply{errorReply(http.StatusBadRequest, "invalid_request_error")})

	rec := &recorder{}
	msgs, err := drain(t, e.Stream(context.Background(), "hi", rec.config()))
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("Stream: got = %v, wanted a 400 API error", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages: got = %d, wanted = 0", len(msgs))
	}
	if got := len(fake.requests()); got != 1 {
		t.Errorf("requests: got = %d, wanted = 1 (400 is not retried)", got)
	}
	if diff := cmp.Diff([]string{"UserPromptSubmit"}, rec.events); diff != "" {
		t.Errorf("hook events: (-want, +got) = %s", diff)
	}
}

func TestStreamMaxTurns(t *testing.T) {
	tool := readTool(t, func(context.Context, readInput) (any, error) { return "again", nil })
	e, _ := newExecutor(t, []reply{
		toolReply("toolu_1", "read_file", `{"path": "loop"}`),
	}, claudeexecutor.WithTools(tool), claudeexecutor.WithMaxTurns(1))

	rec := &recorder{}
	msgs, err := drain(t, e.Stream(context.Background(), "loop", rec.config()))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	res, ok := msgs[len(msgs)-1].(*message.Result)
	if !ok || res.Success() || res.Output != "reached max turns (1)" {
		t.Errorf("last message: got = %+v, wanted a max turns error result", msgs[len(msgs)-1])
	}
	if got, want := rec.events[len(rec.events)-1], "Stop:"+claudeexecutor.StopReasonMaxTurns; got != want {
		t.Errorf("last event: got = %q, wanted = %q", got, want)
	}
}

func TestStreamEarlyBreak(t *testing.T) {
	called := false
	tool := readTool(t, func(context.Context, readInput) (any, error) {
		called = true
		return "", nil
	})
	e, fake := newExecutor(t, []reply{
		toolReply("toolu_1", "read_file", `{"path": "a"}`),
	}, claudeexecutor.WithTools(tool))

	for range e.Stream(context.Background(), "hi", nil) {
		break
	}
	if called {
		t.Error("tool handler: got called after the consumer stopped")
	}
	if got := len(fake.requests()); got != 1 {
		t.Errorf("requests: got = %d, wanted = 1", got)
	}
}

func TestStreamTraced(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tool := readTool(t, func(context.Context, readInput) (any, error) {
		return map[string]any{"bytes": 2}, nil
	})
	e, _ := newExecutor(t, []reply{
		toolReply("toolu_1", "read_file", `{"path": "a.txt"}`),
		textReply("two bytes"),
	}, claudeexecutor.WithTools(tool))

	ctx := context.Background()
	traced := invocation.WithTracing(ctx, invocation.Config{
		Enabled:    true,
		PromptName: "reader",
		Model:      e.Model(),
		UserPrompt: "size of a.txt?",
		Tracer:     agenttrace.NewTracer(tp),
		Metrics:    metrics.NewGenAI(ctx, "test", metrics.WithMeterProvider(sdkmetric.NewMeterProvider())),
	}, e.Source("size of a.txt?"))
	if _, err := drain(t, traced.Stream); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	byName := map[string]tracetest.SpanStub{}
	for _, s := range exporter.GetSpans() {
		byName[s.Name] = s
	}
	for _, name := range []string{"invoke_agent reader", "gen_ai.turn 1", "gen_ai.turn 2", "gen_ai.tool.call read_file"} {
		if _, ok := byName[name]; !ok {
			t.Fatalf("span %q: missing, got %v", name, byName)
		}
	}
	root := byName["invoke_agent reader"]
	if got := root.SpanContext.TraceID().String(); got != traced.TraceID {
		t.Errorf("trace id: got = %s, wanted = %s", got, traced.TraceID)
	}
	if got, want := byName["gen_ai.tool.call read_file"].Parent.SpanID(), byName["gen_ai.turn 1"].SpanContext.SpanID(); got != want {
		t.Errorf("tool parent: got = %s, wanted turn 1 = %s", got, want)
	}
}

func TestNewOptions(t *testing.T) {
	tool := readTool(t, func(context.Context, readInput) (any, error) { return nil, nil })
	tests := []struct {
		name string
		opt  claudeexecutor.Option
		ok   bool
	}{
		{name: "model", opt: claudeexecutor.WithModel("claude-opus-4-1"), ok: true},
		{name: "non claude model", opt: claudeexecutor.WithModel("gpt-4o")},
		{name: "max tokens", opt: claudeexecutor.WithMaxTokens(1024), ok: true},
		{name: "zero max tokens", opt: claudeexecutor.WithMaxTokens(0)},
		{name: "temperature", opt: claudeexecutor.WithTemperature(0.7), ok: true},
		{name: "hot temperature", opt: claudeexecutor.WithTemperature(1.5)},
		{name: "empty system prompt", opt: claudeexecutor.WithSystemPrompt("  ")},
		{name: "zero max turns", opt: claudeexecutor.WithMaxTurns(0)},
		{name: "duplicate tool", opt: claudeexecutor.WithTools(tool, tool)},
		{name: "tool without handler", opt: claudeexecutor.WithTools(claudeexecutor.Tool{Definition: tool.Definition})},
		{name: "negative retries", opt: claudeexecutor.WithRetryConfig(retry.Config{MaxRetries: -1})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := claudeexecutor.New(anthropic.NewClient(option.WithAPIKey("k")), tt.opt)
			if (err == nil) != tt.ok {
				t.Errorf("New: got err = %v, wanted ok = %t", err, tt.ok)
			}
		})
	}
}

func TestNewToolSchema(t *testing.T) {
	tool := readTool(t, func(context.Context, readInput) (any, error) { return nil, nil })
	if diff := cmp.Diff([]string{"path"}, tool.Definition.InputSchema.Required); diff != "" {
		t.Errorf("required: (-want, +got) = %s", diff)
	}
	props, ok := tool.Definition.InputSchema.Properties.(map[string]any)
	if !ok || props["path"] == nil {
		t.Errorf("properties: got = %v, wanted a path property", tool.Definition.InputSchema.Properties)
	}

	if _, err := tool.Handler(context.Background(), json.RawMessage(`{"path": 3}`)); err == nil {
		t.Error("Handler: got = nil error, wanted a decode error")
	}
}

func TestStreamStructuredOutput(t *testing.T) {
	e, _ := newExecutor(t, []reply{
		textReply("```json\n{\"verdict\": \"flaky\"}\n```"),
	}, claudeexecutor.WithStructuredOutput())

	msgs, err := drain(t, e.Stream(context.Background(), "classify", nil))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	res := msgs[len(msgs)-1].(*message.Result)
	if diff := cmp.Diff(map[string]any{"verdict": "flaky"}, res.StructuredOutput); diff != "" {
		t.Errorf("structured output: (-want, +got) = %s", diff)
	}
}
