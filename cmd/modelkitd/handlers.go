package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	modelkit "github.com/noteflow/modelkit"
	"github.com/noteflow/modelkit/internal/logging"
	"github.com/noteflow/modelkit/models"
	"github.com/noteflow/modelkit/provider"
)

type modelEntry struct {
	ID              string   `json:"id"`
	Label           string   `json:"label"`
	DefaultForRoles []string `json:"default_for_roles,omitempty"`
	ImageGeneration bool     `json:"image_generation,omitempty"`
}

func toEntries(list []models.Model) []modelEntry {
	out := make([]modelEntry, 0, len(list))
	for _, m := range list {
		e := modelEntry{ID: m.ID, Label: m.Label, ImageGeneration: m.SupportsImageGeneration}
		for _, r := range m.DefaultForRoles {
			e.DefaultForRoles = append(e.DefaultForRoles, string(r))
		}
		out = append(out, e)
	}
	return out
}

func handleListModels(mgr *modelkit.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := modelkit.ListOptions{
			ForceRefresh:     r.URL.Query().Get("refresh") == "true",
			PreserveDefaults: r.URL.Query().Get("preserve_defaults") != "false",
		}
		list := mgr.AvailableModels(r.Context(), opts)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"object": "list",
			"data":   toEntries(list),
		})
	}
}

func handleListImageModels(mgr *modelkit.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := modelkit.ListOptions{
			ForceRefresh:     r.URL.Query().Get("refresh") == "true",
			PreserveDefaults: true,
		}
		list := mgr.ImageGenerationModels(r.Context(), opts)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"object": "list",
			"data":   toEntries(list),
		})
	}
}

func handleDiscoveryStatus(mgr *modelkit.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, mgr.DiscoveryStatus(r.Context()))
	}
}

func handleRefreshModels(mgr *modelkit.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := mgr.RefreshModels(r.Context())
		status := http.StatusOK
		if !result.Success {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, result)
	}
}

// chatCompletionBody is the request surface of POST /v1/chat/completions.
// It matches provider.ChatRequest plus the stream toggle.
type chatCompletionBody struct {
	provider.ChatRequest
	Stream bool `json:"stream"`
}

type completionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []completionDelta `json:"choices"`
}

type completionDelta struct {
	Index        int               `json:"index"`
	Delta        map[string]string `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

func handleChatCompletions(mgr *modelkit.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())

		var body chatCompletionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "invalid_request_error")
			return
		}
		if err := body.ChatRequest.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}

		client := mgr.NewClient()
		model, err := client.ResolveModel(body.ChatRequest)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
			return
		}

		validation := mgr.ValidateParameters(body.Temperature, body.TopP, model)
		body.Temperature = validation.Temperature
		body.TopP = validation.TopP
		for _, warning := range validation.Warnings {
			logger.Warn("parameter adjusted", "model", model, "warning", warning)
		}

		if !body.Stream {
			result, err := client.Complete(r.Context(), body.ChatRequest)
			if err != nil {
				writeUpstreamError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
			return
		}

		id := "chatcmpl-" + uuid.NewString()
		created := time.Now().Unix()
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported by connection", "api_error")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		result, err := client.Stream(r.Context(), body.ChatRequest, func(chunk string) {
			payload := completionChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   model,
				Choices: []completionDelta{{Delta: map[string]string{"content": chunk}}},
			}
			data, err := json.Marshal(payload)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		})
		if err != nil {
			// Headers are already sent; surface the failure as a final event.
			logger.Error("stream failed", "model", model, "error", err)
			fmt.Fprintf(w, "data: {\"error\": {\"message\": %q, \"type\": \"api_error\"}}\n\n", err.Error())
			flusher.Flush()
			return
		}

		reason := "stop"
		if result.Cancelled {
			reason = "cancelled"
		}
		final := completionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []completionDelta{{Delta: map[string]string{}, FinishReason: &reason}},
		}
		if data, err := json.Marshal(final); err == nil {
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func writeUpstreamError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		logger.Error("upstream error", "status", statusErr.StatusCode, "error", err)
		writeError(w, http.StatusBadGateway, err.Error(), "api_error")
		return
	}
	logger.Error("completion failed", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error(), "api_error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"message": message,
			"type":    errType,
		},
	})
}
