package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

type stubResolver struct {
	model string
	err   error
}

func (s stubResolver) DefaultModel(string) (string, error) { return s.model, s.err }

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name    string
		client  *Client
		req     ChatRequest
		want    string
		wantErr bool
	}{
		{
			name:   "request override wins",
			client: NewClient(Options{DefaultModel: "default-model"}),
			req:    ChatRequest{Model: "explicit-model"},
			want:   "explicit-model",
		},
		{
			name:   "configured default",
			client: NewClient(Options{DefaultModel: "default-model"}),
			want:   "default-model",
		},
		{
			name:   "resolver fallback",
			client: NewClient(Options{Resolver: stubResolver{model: "resolved-model"}}),
			want:   "resolved-model",
		},
		{
			name:    "nothing configured",
			client:  NewClient(Options{}),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.client.ResolveModel(tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveModel error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveModel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildMessages(t *testing.T) {
	c := NewClient(Options{SystemPrompt: "base prompt"})

	t.Run("custom prompt appended", func(t *testing.T) {
		msgs := c.buildMessages(ChatRequest{Prompt: "hi", CustomPrompt: "extra rules"})
		if len(msgs) != 2 {
			t.Fatalf("got %d messages, want 2", len(msgs))
		}
		if msgs[0].Role != RoleSystem || !strings.Contains(msgs[0].Content, "base prompt") || !strings.Contains(msgs[0].Content, "extra rules") {
			t.Errorf("system message = %+v, want base plus custom prompt", msgs[0])
		}
	})

	t.Run("custom prompt override replaces base", func(t *testing.T) {
		msgs := c.buildMessages(ChatRequest{Prompt: "hi", CustomPrompt: "only this", CustomPromptOverride: true})
		if strings.Contains(msgs[0].Content, "base prompt") {
			t.Errorf("override kept the base prompt: %q", msgs[0].Content)
		}
		if !strings.HasPrefix(msgs[0].Content, "only this") {
			t.Errorf("system message = %q, want the override", msgs[0].Content)
		}
	})

	t.Run("memory context appended after override", func(t *testing.T) {
		msgs := c.buildMessages(ChatRequest{
			Prompt:               "hi",
			CustomPrompt:         "only this",
			CustomPromptOverride: true,
			MemoryContext:        "note body",
		})
		if !strings.Contains(msgs[0].Content, "Relevant notes from memory:\nnote body") {
			t.Errorf("system message = %q, want memory context appended", msgs[0].Content)
		}
	})

	t.Run("unknown history roles dropped", func(t *testing.T) {
		msgs := c.buildMessages(ChatRequest{
			Prompt: "hi",
			History: []Turn{
				{Role: RoleUser, Content: "q1"},
				{Role: "function", Content: "legacy"},
				{Role: RoleAssistant, Content: "a1"},
			},
		})
		// system + 2 surviving turns + new user message
		if len(msgs) != 4 {
			t.Fatalf("got %d messages, want 4: %+v", len(msgs), msgs)
		}
		for _, m := range msgs {
			if m.Content == "legacy" {
				t.Error("unknown role survived normalization")
			}
		}
	})

	t.Run("attachment note", func(t *testing.T) {
		msgs := c.buildMessages(ChatRequest{
			Prompt:      "describe this",
			Attachments: []Attachment{{Name: "sketch.png"}},
		})
		last := msgs[len(msgs)-1]
		if !strings.Contains(last.Content, `[attachment "sketch.png" omitted`) {
			t.Errorf("user message = %q, want attachment note", last.Content)
		}
	})
}

// newSSEServer returns a test server that emits the given SSE data payloads
// followed by the done sentinel.
func newSSEServer(t *testing.T, payloads []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func textChunk(content string) string {
	return fmt.Sprintf(`{"choices":[{"index":0,"delta":{"content":%q}}]}`, content)
}

func TestStreamText(t *testing.T) {
	server := newSSEServer(t, []string{
		textChunk("Hello"),
		textChunk(", "),
		textChunk("world"),
	})
	defer server.Close()

	c := NewClient(Options{APIKey: "test-key", BaseURL: server.URL, DefaultModel: "test-model"})

	var chunks []string
	result, err := c.Stream(context.Background(), ChatRequest{Prompt: "hi"}, func(text string) {
		chunks = append(chunks, text)
	})
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	if result.Markdown != "Hello, world" {
		t.Errorf("Markdown = %q, want %q", result.Markdown, "Hello, world")
	}
	if result.Cancelled {
		t.Error("Cancelled = true on a completed stream")
	}
	if want := []string{"Hello", ", ", "world"}; !reflect.DeepEqual(chunks, want) {
		t.Errorf("chunks = %v, want %v", chunks, want)
	}
}

func TestStreamToolCallFragments(t *testing.T) {
	// One tool call whose arguments arrive split across three chunks by
	// stream index 0.
	server := newSSEServer(t, []string{
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"create_note","arguments":"{\"title\""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"Groceries\",\"pinned\""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":true}"}}]}}]}`,
	})
	defer server.Close()

	c := NewClient(Options{APIKey: "test-key", BaseURL: server.URL, DefaultModel: "test-model"})
	result, err := c.Stream(context.Background(), ChatRequest{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(result.ToolCalls))
	}

	tc := result.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "create_note" {
		t.Errorf("tool call header = %+v", tc)
	}
	want := map[string]interface{}{"title": "Groceries", "pinned": true}
	if !reflect.DeepEqual(tc.Arguments, want) {
		t.Errorf("Arguments = %v, want %v", tc.Arguments, want)
	}
}

func TestStreamDiscardsNamelessFragment(t *testing.T) {
	server := newSSEServer(t, []string{
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"create_note","arguments":"{}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"{\"orphan\":true}"}}]}}]}`,
	})
	defer server.Close()

	c := NewClient(Options{APIKey: "test-key", BaseURL: server.URL, DefaultModel: "test-model"})
	result, err := c.Stream(context.Background(), ChatRequest{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1 (orphan discarded): %+v", len(result.ToolCalls), result.ToolCalls)
	}
	if result.ToolCalls[0].Name != "create_note" {
		t.Errorf("surviving tool call = %+v", result.ToolCalls[0])
	}
}

func TestStreamCancellation(t *testing.T) {
	emitted := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, content := range []string{"one", "two", "three"} {
			fmt.Fprintf(w, "data: %s\n\n", textChunk(content))
			flusher.Flush()
		}
		close(emitted)
		// Hold the stream open until the client tears it down.
		<-r.Context().Done()
	}))
	defer server.Close()

	c := NewClient(Options{APIKey: "test-key", BaseURL: server.URL, DefaultModel: "test-model"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got strings.Builder
	seen := 0
	result, err := c.Stream(ctx, ChatRequest{Prompt: "hi"}, func(text string) {
		got.WriteString(text)
		seen++
		if seen == 3 {
			<-emitted
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("Stream after cancellation returned error: %v", err)
	}
	if !result.Cancelled {
		t.Error("Cancelled = false, want true")
	}
	if result.Markdown != "onetwothree" {
		t.Errorf("Markdown = %q, want the three emitted chunks", result.Markdown)
	}
	if got.String() != result.Markdown {
		t.Errorf("callback saw %q, result holds %q", got.String(), result.Markdown)
	}
}

func TestStreamCancellationSkipsBufferedEvent(t *testing.T) {
	// One complete event, then a data line whose terminating blank line
	// never arrives. After cancellation that half-buffered event must not
	// reach the chunk callback or the result.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", textChunk("one"))
		fmt.Fprintf(w, "data: %s\n", textChunk("two"))
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	c := NewClient(Options{APIKey: "test-key", BaseURL: server.URL, DefaultModel: "test-model"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan struct{}, 1)
	var calls int
	go func() {
		<-seen
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	result, err := c.Stream(ctx, ChatRequest{Prompt: "hi"}, func(text string) {
		calls++
		seen <- struct{}{}
	})
	if err != nil {
		t.Fatalf("Stream after cancellation returned error: %v", err)
	}
	if !result.Cancelled {
		t.Error("Cancelled = false, want true")
	}
	if result.Markdown != "one" {
		t.Errorf("Markdown = %q, want only the completed event", result.Markdown)
	}
	if calls != 1 {
		t.Errorf("chunk callback ran %d times, want 1", calls)
	}
}

func TestStreamStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota exhausted","type":"rate_limit_error"}}`)
	}))
	defer server.Close()

	c := NewClient(Options{APIKey: "test-key", BaseURL: server.URL, DefaultModel: "test-model"})
	_, err := c.Stream(context.Background(), ChatRequest{Prompt: "hi"}, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", statusErr.StatusCode)
	}
	if statusErr.Body != "quota exhausted" {
		t.Errorf("Body = %q, want the provider's error message", statusErr.Body)
	}
}

func TestComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		if body.Stream {
			t.Error("stream = true on a single-shot call")
		}
		if body.Model != "test-model" {
			t.Errorf("model = %q", body.Model)
		}
		fmt.Fprint(w, `{
			"id": "cmpl-1",
			"model": "test-model",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "answer",
					"tool_calls": [{
						"id": "call_9",
						"type": "function",
						"function": {"name": "search_notes", "arguments": "{\"query\":\"milk\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}]
		}`)
	}))
	defer server.Close()

	c := NewClient(Options{APIKey: "test-key", BaseURL: server.URL, DefaultModel: "test-model"})
	result, err := c.Complete(context.Background(), ChatRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if result.Markdown != "answer" {
		t.Errorf("Markdown = %q", result.Markdown)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "search_notes" {
		t.Fatalf("ToolCalls = %+v", result.ToolCalls)
	}
	if got := result.ToolCalls[0].Arguments["query"]; got != "milk" {
		t.Errorf("Arguments[query] = %v", got)
	}
}

func TestDecodeToolArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]interface{}
	}{
		{"valid object", `{"a":1}`, map[string]interface{}{"a": float64(1)}},
		{"malformed json", `{"a":`, map[string]interface{}{"raw": `{"a":`}},
		{"non-object json", `"just a string"`, map[string]interface{}{"raw": `"just a string"`}},
		{"empty", "", map[string]interface{}{"raw": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeToolArguments(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("decodeToolArguments(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestGenerateImage(t *testing.T) {
	c := NewClient(Options{DefaultModel: "test-model"})
	if _, err := c.GenerateImage(context.Background(), "a cat"); !errors.Is(err, ErrImageGenerationUnsupported) {
		t.Errorf("GenerateImage error = %v, want ErrImageGenerationUnsupported", err)
	}
}
