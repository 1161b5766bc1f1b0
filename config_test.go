package modelkit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/noteflow/modelkit/internal/kvstore"
	"github.com/noteflow/modelkit/models"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSettingsJSON(t *testing.T) {
	path := writeTempFile(t, "settings.json", `{
		"api_key": "test-key",
		"chat_model_name": "gemini-2.5-pro",
		"enable_model_discovery": true,
		"auto_update_interval": "6h"
	}`)
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.APIKey != "test-key" || s.ChatModelName != "gemini-2.5-pro" {
		t.Errorf("settings = %+v", s)
	}
	if !s.EnableModelDiscovery || s.AutoUpdateInterval != "6h" {
		t.Errorf("settings = %+v", s)
	}
}

func TestLoadSettingsYAML(t *testing.T) {
	path := writeTempFile(t, "settings.yaml", strings.Join([]string{
		"api_key: test-key",
		"summary_model_name: gemini-2.5-flash-lite",
		"temperature: 0.4",
	}, "\n"))
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.SummaryModelName != "gemini-2.5-flash-lite" {
		t.Errorf("SummaryModelName = %q", s.SummaryModelName)
	}
	if s.Temperature == nil || *s.Temperature != 0.4 {
		t.Errorf("Temperature = %v", s.Temperature)
	}
}

func TestLoadSettingsErrors(t *testing.T) {
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("want error for a missing file")
	}
	path := writeTempFile(t, "settings.toml", "api_key = 'x'")
	if _, err := LoadSettings(path); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("LoadSettings(.toml) = %v, want unsupported extension error", err)
	}
	bad := writeTempFile(t, "settings.json", "{not json")
	if _, err := LoadSettings(bad); err == nil {
		t.Error("want error for malformed JSON")
	}
}

func TestSettingsBlobRoundTrip(t *testing.T) {
	store := kvstore.NewMemory()

	if _, ok, err := LoadSettingsBlob(store); err != nil || ok {
		t.Fatalf("LoadSettingsBlob on empty store = ok=%v err=%v", ok, err)
	}

	in := Settings{APIKey: "test-key", ChatModelName: "gemini-2.5-pro", EnableModelDiscovery: true}
	if err := SaveSettingsBlob(store, in); err != nil {
		t.Fatalf("SaveSettingsBlob: %v", err)
	}

	out, ok, err := LoadSettingsBlob(store)
	if err != nil || !ok {
		t.Fatalf("LoadSettingsBlob = ok=%v err=%v", ok, err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestValidateSettings(t *testing.T) {
	temp := func(v float64) *float64 { return &v }
	tokens := func(v int) *int { return &v }

	tests := []struct {
		name    string
		s       Settings
		wantErr string
	}{
		{"zero value", Settings{}, ""},
		{"valid", Settings{Temperature: temp(0.7), TopP: temp(0.9), MaxTokens: tokens(1024), AutoUpdateInterval: "12h"}, ""},
		{"temperature too high", Settings{Temperature: temp(2.5)}, "temperature"},
		{"top_p negative", Settings{TopP: temp(-0.1)}, "top_p"},
		{"max_tokens zero", Settings{MaxTokens: tokens(0)}, "max_tokens"},
		{"bad interval", Settings{AutoUpdateInterval: "often"}, "auto_update_interval"},
		{"negative interval", Settings{AutoUpdateInterval: "-1h"}, "auto_update_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSettings(tt.s)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateSettings = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateSettings = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestModelNameForRole(t *testing.T) {
	var s Settings
	roles := []models.Role{
		models.RoleChat,
		models.RoleSummary,
		models.RoleCompletions,
		models.RoleRewrite,
		models.RoleImage,
	}
	for _, role := range roles {
		if got := s.ModelNameForRole(role); got != "" {
			t.Errorf("ModelNameForRole(%s) on zero settings = %q", role, got)
		}
		s.SetModelNameForRole(role, "model-"+string(role))
		if got := s.ModelNameForRole(role); got != "model-"+string(role) {
			t.Errorf("ModelNameForRole(%s) = %q after set", role, got)
		}
	}
	if got := s.ModelNameForRole(models.Role("unknown")); got != "" {
		t.Errorf("ModelNameForRole(unknown) = %q, want empty", got)
	}
}
