// Package provider implements the single wire protocol modelkit speaks: an
// OpenAI-compatible chat-completions endpoint with SSE streaming, plus the
// model catalog discovery call.
//
// Core types: ChatRequest, Result, Message, Tool, ToolCall, ModelInfo,
// DiscoveryResult. The Client issues completion calls; the DiscoveryService
// fetches and caches the provider catalog.
package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Message role constants recognized on the wire. Conversation turns carrying
// any other role are dropped during request building.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"

	// SSEDone is the sentinel payload that marks the end of a server-sent
	// event stream.
	SSEDone = "[DONE]"
)

// ErrImageGenerationUnsupported is returned synchronously by GenerateImage:
// the chat-completions transport cannot produce images.
var ErrImageGenerationUnsupported = errors.New("image generation is not supported by the chat completions transport")

// ModelResolver supplies the role-based fallback model when a request names
// no model and no configured default exists. *modelkit.Manager implements it.
type ModelResolver interface {
	// DefaultModel returns the id of the default model for a role slot
	// (e.g. "chat"). Resolution against an empty registry is an error and
	// propagates to the caller.
	DefaultModel(role string) (string, error)
}

// Message represents a single turn in a conversation on the wire.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool describes a function the model may call.
type Tool struct {
	Type     string   `json:"type"` // always "function"
	Function Function `json:"function"`
}

// Function describes the callable function within a Tool.
type Function struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Parameters is the JSON Schema for the function arguments.
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a function invocation returned by the model in its response.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the name and arguments of a model-generated function call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded argument object
}

// Turn is a single prior-conversation entry supplied by the caller.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment names a file the caller attached to the new user message.
// The transport cannot carry attachments; they are noted inline as
// unsupported rather than silently dropped.
type Attachment struct {
	Name string `json:"name"`
}

// ChatRequest is a caller's conversation request. It is constructed per call
// and not retained by the client beyond that call.
type ChatRequest struct {
	// Model overrides the client's configured default when set.
	Model string

	// Prompt is the new user message.
	Prompt string

	// History is the prior conversation. Turns with unrecognized roles are
	// dropped during request building.
	History []Turn

	// Attachments are noted inline as unsupported.
	Attachments []Attachment

	// CustomPrompt is appended to the synthesized system instruction, or
	// replaces it entirely when Override is set.
	CustomPrompt string
	// CustomPromptOverride makes CustomPrompt the whole system instruction.
	CustomPromptOverride bool
	// MemoryContext is auxiliary memory content appended to the system
	// instruction.
	MemoryContext string

	// Tools the model may call.
	Tools      []Tool
	ToolChoice interface{}

	// Sampling overrides; the client's configured defaults apply when nil.
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Validate returns an error if the request is missing required fields,
// contains out-of-range parameter values, or declares a tool whose parameter
// schema does not compile.
func (r ChatRequest) Validate() error {
	if r.Prompt == "" && len(r.History) == 0 {
		return errors.New("a prompt or prior conversation is required")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return errors.New("top_p must be between 0 and 1")
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return errors.New("max_tokens must be positive")
	}
	for _, t := range r.Tools {
		if t.Function.Name == "" {
			return errors.New("tool function name is required")
		}
		if len(t.Function.Parameters) == 0 {
			continue
		}
		if err := compileToolSchema(t.Function.Name, t.Function.Parameters); err != nil {
			return err
		}
	}
	return nil
}

// compileToolSchema checks that a tool's parameter schema is a valid JSON
// Schema before the request is sent, so schema mistakes fail locally instead
// of as an opaque provider rejection.
func compileToolSchema(name string, schema json.RawMessage) error {
	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("tool://%s/parameters.json", name)
	if err := c.AddResource(url, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("tool %q: invalid parameter schema: %w", name, err)
	}
	if _, err := c.Compile(url); err != nil {
		return fmt.Errorf("tool %q: invalid parameter schema: %w", name, err)
	}
	return nil
}

// ToolCallResult is a finalized, decoded tool invocation.
type ToolCallResult struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	// Arguments is the decoded argument object, or {"raw": <original
	// string>} when the provider sent arguments that are not valid JSON.
	Arguments map[string]interface{} `json:"arguments"`
}

// Result is the outcome of a completion call. For cancelled streaming calls
// it carries whatever text and tool calls were accumulated before the cancel
// took effect.
type Result struct {
	Model     string           `json:"model"`
	Markdown  string           `json:"markdown"`
	ToolCalls []ToolCallResult `json:"tool_calls,omitempty"`
	Cancelled bool             `json:"cancelled,omitempty"`
}

// StatusError carries a non-2xx provider response: the status code and the
// raw response body.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}
