package models

import "strings"

// FilterMode selects which half of the image/text partition Filter keeps.
type FilterMode int

// Filter modes.
const (
	FilterText FilterMode = iota
	FilterImage
)

// denylist holds identifier substrings marking non-conversational model
// specialties. Matching models are excluded outright in both filter modes,
// before any image/text classification.
var denylist = []string{
	"embedding",
	"transcription",
	"moderation",
	"guard",
	"tts",
	"audio",
	"speech",
}

// imageMarkers holds identifier substrings that classify a model as
// image-capable when no explicit capability flag is set.
var imageMarkers = []string{
	"imagen",
	"image",
	"vision",
}

// Denied reports whether the model identifier matches the denylist.
func Denied(id string) bool {
	lower := strings.ToLower(id)
	for _, marker := range denylist {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ImageCapable reports whether a model is classified as image-capable,
// either by explicit flag or by identifier marker.
func ImageCapable(m Model) bool {
	if m.SupportsImageGeneration {
		return true
	}
	lower := strings.ToLower(m.ID)
	for _, marker := range imageMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Filter removes denylisted models, then keeps the image-capable half of the
// remainder in FilterImage mode and the complement in FilterText mode. The
// denylist strictly precedes the image/text partition, so a denylisted id
// never appears in either output.
func Filter(list []Model, mode FilterMode) []Model {
	out := make([]Model, 0, len(list))
	for _, m := range list {
		if Denied(m.ID) {
			continue
		}
		if ImageCapable(m) == (mode == FilterImage) {
			out = append(out, m)
		}
	}
	return out
}
