package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/noteflow/modelkit/internal/logging"
	"github.com/noteflow/modelkit/internal/metrics"
)

// DefaultBaseURL is the provider's OpenAI-compatible endpoint root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// defaultSystemPrompt is the synthesized system instruction used when the
// caller supplies no full-override custom prompt.
const defaultSystemPrompt = "You are a helpful assistant embedded in a note-taking workspace. " +
	"Answer concisely in Markdown. When the user's notes are provided as context, " +
	"ground your answers in them and say so when they do not cover the question."

// Options configures a Client.
type Options struct {
	APIKey string
	// BaseURL overrides DefaultBaseURL (no trailing slash required).
	BaseURL string
	// DefaultModel is used when a request names no model.
	DefaultModel string
	// SystemPrompt replaces the built-in base system instruction.
	SystemPrompt string
	// Resolver supplies the role-based fallback model. Optional.
	Resolver ModelResolver
	// Sampling defaults applied when the request leaves them unset.
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	// HTTPClient overrides the default transport. Optional.
	HTTPClient *http.Client
}

// Client issues chat completion calls against the provider, in single-shot
// or streaming mode. Independent calls may run concurrently; the client
// itself holds no per-call state.
type Client struct {
	apiKey       string
	baseURL      string
	defaultModel string
	systemPrompt string
	resolver     ModelResolver
	temperature  *float64
	topP         *float64
	maxTokens    *int
	httpClient   *http.Client
}

// NewClient creates a completion client.
func NewClient(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		apiKey:       opts.APIKey,
		baseURL:      baseURL,
		defaultModel: opts.DefaultModel,
		systemPrompt: systemPrompt,
		resolver:     opts.Resolver,
		temperature:  opts.Temperature,
		topP:         opts.TopP,
		maxTokens:    opts.MaxTokens,
		httpClient:   httpClient,
	}
}

// ---------------------------------------------------------------- wire types

// chatCompletionRequest mirrors the OpenAI chat completions request body.
type chatCompletionRequest struct {
	Model       string      `json:"model"`
	Messages    []Message   `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
	TopP        *float64    `json:"top_p,omitempty"`
	MaxTokens   *int        `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
	Tools       []Tool      `json:"tools,omitempty"`
	ToolChoice  interface{} `json:"tool_choice,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// streamChunk mirrors one SSE data payload of a streaming response.
type streamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role      string          `json:"role,omitempty"`
			Content   string          `json:"content,omitempty"`
			ToolCalls []toolCallDelta `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

// toolCallDelta is one fragment of a tool call, keyed by stream index.
// id and name arrive on the first fragment; arguments arrive in pieces
// across arbitrarily many subsequent fragments.
type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type providerErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ------------------------------------------------------------ request build

// ResolveModel returns the model a request will run against: the explicit
// request override, then the configured default, then the role-based
// registry default.
func (c *Client) ResolveModel(req ChatRequest) (string, error) {
	if req.Model != "" {
		return req.Model, nil
	}
	if c.defaultModel != "" {
		return c.defaultModel, nil
	}
	if c.resolver != nil {
		return c.resolver.DefaultModel("chat")
	}
	return "", fmt.Errorf("no model configured and no resolver available")
}

// buildMessages assembles the wire message sequence: the synthesized system
// instruction, the normalized prior conversation, then the new user message.
func (c *Client) buildMessages(req ChatRequest) []Message {
	msgs := make([]Message, 0, len(req.History)+2)

	system := c.systemPrompt
	if req.CustomPrompt != "" {
		if req.CustomPromptOverride {
			system = req.CustomPrompt
		} else {
			system = system + "\n\n" + req.CustomPrompt
		}
	}
	if req.MemoryContext != "" {
		system = system + "\n\nRelevant notes from memory:\n" + req.MemoryContext
	}
	msgs = append(msgs, Message{Role: RoleSystem, Content: system})

	for _, turn := range req.History {
		switch turn.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
			msgs = append(msgs, Message{Role: turn.Role, Content: turn.Content})
		default:
			// Unrecognized roles are dropped.
		}
	}

	if req.Prompt != "" || len(req.Attachments) > 0 {
		content := req.Prompt
		for _, att := range req.Attachments {
			content += fmt.Sprintf("\n\n[attachment %q omitted: image attachments are not supported by this model]", att.Name)
		}
		msgs = append(msgs, Message{Role: RoleUser, Content: content})
	}

	return msgs
}

func (c *Client) buildBody(req ChatRequest, model string, stream bool) chatCompletionRequest {
	body := chatCompletionRequest{
		Model:       model,
		Messages:    c.buildMessages(req),
		Temperature: c.temperature,
		TopP:        c.topP,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
	}
	if req.Temperature != nil {
		body.Temperature = req.Temperature
	}
	if req.TopP != nil {
		body.TopP = req.TopP
	}
	if req.MaxTokens != nil {
		body.MaxTokens = req.MaxTokens
	}
	return body
}

func (c *Client) post(ctx context.Context, body chatCompletionRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return httpResp, nil
}

// statusError converts a non-2xx response into a StatusError carrying the
// status code and the raw body (or the provider's error message when the
// body parses as an error envelope).
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errResp providerErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		return &StatusError{StatusCode: resp.StatusCode, Body: errResp.Error.Message}
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}

// ------------------------------------------------------------ single-shot

// Complete issues one non-streaming completion call.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*Result, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	model, err := c.ResolveModel(req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.post(ctx, c.buildBody(req, model, false))
	if err != nil {
		metrics.CompletionsTotal.WithLabelValues(model, "single", "error").Inc()
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		metrics.CompletionsTotal.WithLabelValues(model, "single", "error").Inc()
		return nil, statusError(httpResp)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		metrics.CompletionsTotal.WithLabelValues(model, "single", "error").Inc()
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		metrics.CompletionsTotal.WithLabelValues(model, "single", "error").Inc()
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	result := &Result{Model: model}
	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		result.Markdown = choice.Message.Content
		for _, tc := range choice.Message.ToolCalls {
			result.ToolCalls = append(result.ToolCalls, ToolCallResult{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: decodeToolArguments(tc.Function.Arguments),
			})
		}
	}

	metrics.CompletionsTotal.WithLabelValues(model, "single", "success").Inc()
	metrics.CompletionDuration.WithLabelValues(model, "single").Observe(time.Since(start).Seconds())
	log.Debug("completion finished", "model", model, "tool_calls", len(result.ToolCalls))
	return result, nil
}

// --------------------------------------------------------------- streaming

// toolCallFragment accumulates one tool call across streamed fragments
// sharing a stream index.
type toolCallFragment struct {
	id   string
	name string
	args strings.Builder
}

// Stream issues a streaming completion call. Each text delta is appended to
// the running result and delivered to onChunk in strict arrival order; this
// callback is the only yield point, so at most one chunk is pending at a
// time. Tool-call fragments are accumulated per stream index and finalized
// when the stream ends; fragments whose name never arrived are discarded.
//
// Cancelling ctx stops the read loop after the current read resolves and
// returns the accumulated partial result with Cancelled set, not an error.
func (c *Client) Stream(ctx context.Context, req ChatRequest, onChunk func(text string)) (*Result, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	model, err := c.ResolveModel(req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.post(ctx, c.buildBody(req, model, true))
	if err != nil {
		metrics.CompletionsTotal.WithLabelValues(model, "stream", "error").Inc()
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		metrics.CompletionsTotal.WithLabelValues(model, "stream", "error").Inc()
		return nil, statusError(httpResp)
	}

	result := &Result{Model: model}
	var text strings.Builder
	fragments := make(map[int]*toolCallFragment)

	// The scanner retains partial buffered bytes across reads, so events
	// split mid-line or mid-rune are reassembled transparently.
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventData []string
	flushEvent := func() {
		if len(eventData) == 0 {
			return
		}
		data := strings.Join(eventData, "\n")
		eventData = eventData[:0]
		if data == SSEDone {
			return
		}

		var chunk streamChunk
		if json.Unmarshal([]byte(data), &chunk) != nil {
			return
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				metrics.StreamChunks.WithLabelValues(model).Inc()
				if onChunk != nil {
					onChunk(choice.Delta.Content)
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				frag, ok := fragments[tc.Index]
				if !ok {
					frag = &toolCallFragment{}
					fragments[tc.Index] = frag
				}
				if tc.ID != "" {
					frag.id = tc.ID
				}
				if tc.Function.Name != "" {
					frag.name = tc.Function.Name
				}
				frag.args.WriteString(tc.Function.Arguments)
			}
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		line := scanner.Text()
		if line == "" {
			// Blank line terminates the current event.
			flushEvent()
			continue
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			eventData = append(eventData, data)
		}
	}
	if !result.Cancelled {
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				// The read was torn down by cancellation; keep the partial result.
				result.Cancelled = true
			} else {
				metrics.CompletionsTotal.WithLabelValues(model, "stream", "error").Inc()
				return nil, fmt.Errorf("stream read failed: %w", err)
			}
		}
	}
	// A cancelled call stops at the current read; a half-buffered event must
	// not produce further chunk deliveries.
	if !result.Cancelled {
		flushEvent()
	}

	result.Markdown = text.String()
	result.ToolCalls = finalizeToolCalls(fragments)

	status := "success"
	if result.Cancelled {
		status = "cancelled"
	}
	metrics.CompletionsTotal.WithLabelValues(model, "stream", status).Inc()
	metrics.CompletionDuration.WithLabelValues(model, "stream").Observe(time.Since(start).Seconds())
	log.Debug("stream finished",
		"model", model,
		"chars", len(result.Markdown),
		"tool_calls", len(result.ToolCalls),
		"cancelled", result.Cancelled,
	)
	return result, nil
}

// finalizeToolCalls converts accumulated fragments into structured tool
// calls, in stream-index order. Fragments with no name are orphans from a
// stream that never completed their header and are discarded silently.
func finalizeToolCalls(fragments map[int]*toolCallFragment) []ToolCallResult {
	if len(fragments) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(fragments))
	for i := range fragments {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var out []ToolCallResult
	for _, i := range indexes {
		frag := fragments[i]
		if frag.name == "" {
			continue
		}
		out = append(out, ToolCallResult{
			ID:        frag.id,
			Name:      frag.name,
			Arguments: decodeToolArguments(frag.args.String()),
		})
	}
	return out
}

// decodeToolArguments decodes a JSON-encoded argument string into an object.
// Malformed arguments are expected from some providers and must not fail the
// call, so anything that does not decode to an object degrades to
// {"raw": <original string>}.
func decodeToolArguments(raw string) map[string]interface{} {
	if raw != "" && gjson.Valid(raw) {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &args); err == nil {
			return args
		}
	}
	return map[string]interface{}{"raw": raw}
}

// GenerateImage always fails: image generation is not supported by this
// transport and must be reported as a failure rather than attempted.
func (c *Client) GenerateImage(context.Context, string) (*Result, error) {
	return nil, ErrImageGenerationUnsupported
}
