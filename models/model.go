// Package models provides the normalized model catalog: the Model record,
// the static baseline list, the registry that owns the process-wide current
// model set, pure mapping/merge/sort transforms over provider catalog
// entries, and parameter-range derivation.
package models

// Role is a functional slot to which a default model is assigned.
type Role string

// Roles a model can claim as its default slot.
const (
	RoleChat        Role = "chat"
	RoleSummary     Role = "summary"
	RoleCompletions Role = "completions"
	RoleRewrite     Role = "rewrite"
	RoleImage       Role = "image"
)

// Model is a normalized catalog entry. ID is the unique, stable key within
// any list. Role defaults are advisory: at most one model conventionally
// claims a role but this is not enforced, first match wins.
type Model struct {
	ID                      string `json:"id"`
	Label                   string `json:"label"`
	DefaultForRoles         []Role `json:"default_for_roles,omitempty"`
	SupportsImageGeneration bool   `json:"supports_image_generation,omitempty"`
}

// HasRole reports whether the model claims role as a default slot.
func (m Model) HasRole(role Role) bool {
	for _, r := range m.DefaultForRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Defaults returns the static baseline model list used when discovery is
// disabled or failing. The slice is freshly allocated on each call so
// callers cannot mutate the baseline.
func Defaults() []Model {
	return []Model{
		{
			ID:              "gemini-2.5-flash",
			Label:           "Gemini 2.5 Flash",
			DefaultForRoles: []Role{RoleChat},
		},
		{
			ID:              "gemini-2.5-flash-lite",
			Label:           "Gemini 2.5 Flash Lite",
			DefaultForRoles: []Role{RoleSummary, RoleCompletions, RoleRewrite},
		},
		{
			ID:    "gemini-2.5-pro",
			Label: "Gemini 2.5 Pro",
		},
		{
			ID:    "gemini-2.0-flash",
			Label: "Gemini 2.0 Flash",
		},
		{
			ID:                      "imagen-3.0-generate-002",
			Label:                   "Imagen 3",
			DefaultForRoles:         []Role{RoleImage},
			SupportsImageGeneration: true,
		},
		{
			ID:                      "gemini-2.0-flash-preview-image-generation",
			Label:                   "Gemini 2.0 Flash Image Generation",
			SupportsImageGeneration: true,
		},
	}
}
