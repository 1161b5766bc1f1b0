// Package modelkit resolves models against a remote language-model provider
// and issues chat completions over its wire protocol.
//
// The Manager type is the main entry point: create one with NewManager, ask
// it for role-appropriate model lists with AvailableModels and
// ImageGenerationModels, keep host settings in step with the provider
// catalog via UpdateModels, and obtain a completion client with NewClient.
//
// Model discovery is cached with a TTL and persisted through the injected
// key-value store; when discovery is disabled or failing, the static
// baseline in the models package is substituted silently.
package modelkit

import (
	"fmt"

	"github.com/noteflow/modelkit/models"
)

// Settings holds the host-supplied configuration consumed by the engine.
type Settings struct {
	// APIKey is the bearer credential for the provider.
	APIKey string `json:"api_key" yaml:"api_key"`
	// BaseURL overrides the provider endpoint root (optional).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Per-role model selections.
	ChatModelName        string `json:"chat_model_name,omitempty" yaml:"chat_model_name,omitempty"`
	SummaryModelName     string `json:"summary_model_name,omitempty" yaml:"summary_model_name,omitempty"`
	CompletionsModelName string `json:"completions_model_name,omitempty" yaml:"completions_model_name,omitempty"`
	RewriteModelName     string `json:"rewrite_model_name,omitempty" yaml:"rewrite_model_name,omitempty"`
	ImageModelName       string `json:"image_model_name,omitempty" yaml:"image_model_name,omitempty"`

	// Sampling defaults applied when a request leaves them unset.
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// System-prompt customization passed through to completion calls.
	CustomPrompt         string `json:"custom_prompt,omitempty" yaml:"custom_prompt,omitempty"`
	CustomPromptOverride bool   `json:"custom_prompt_override,omitempty" yaml:"custom_prompt_override,omitempty"`

	// EnableModelDiscovery turns the dynamic catalog on; when false the
	// static baseline is used exclusively.
	EnableModelDiscovery bool `json:"enable_model_discovery" yaml:"enable_model_discovery"`
	// AutoUpdateInterval is a duration string (e.g. "6h") for background
	// model refreshes; empty disables them.
	AutoUpdateInterval string `json:"auto_update_interval,omitempty" yaml:"auto_update_interval,omitempty"`
}

// ModelNameForRole returns the per-role model selection, or "" when unset.
func (s Settings) ModelNameForRole(role models.Role) string {
	switch role {
	case models.RoleChat:
		return s.ChatModelName
	case models.RoleSummary:
		return s.SummaryModelName
	case models.RoleCompletions:
		return s.CompletionsModelName
	case models.RoleRewrite:
		return s.RewriteModelName
	case models.RoleImage:
		return s.ImageModelName
	}
	return ""
}

// SetModelNameForRole updates the per-role model selection.
func (s *Settings) SetModelNameForRole(role models.Role, name string) {
	switch role {
	case models.RoleChat:
		s.ChatModelName = name
	case models.RoleSummary:
		s.SummaryModelName = name
	case models.RoleCompletions:
		s.CompletionsModelName = name
	case models.RoleRewrite:
		s.RewriteModelName = name
	case models.RoleImage:
		s.ImageModelName = name
	}
}

// ValidateSettings validates a Settings for correctness.
func ValidateSettings(s Settings) error {
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if s.TopP != nil && (*s.TopP < 0 || *s.TopP > 1) {
		return fmt.Errorf("top_p must be between 0 and 1")
	}
	if s.MaxTokens != nil && *s.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if s.AutoUpdateInterval != "" {
		if _, err := parseInterval(s.AutoUpdateInterval); err != nil {
			return fmt.Errorf("invalid auto_update_interval: %w", err)
		}
	}
	return nil
}
