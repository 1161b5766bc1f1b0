package modelkit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noteflow/modelkit/internal/kvstore"
)

// settingsBlobKey names the opaque settings blob in the key-value store.
const settingsBlobKey = "settings"

// LoadSettings reads and parses a settings file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	var s Settings
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parsing YAML settings: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parsing JSON settings: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported settings file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &s, nil
}

// SaveSettingsBlob persists settings as an opaque blob through the host's
// persistence provider.
func SaveSettingsBlob(store kvstore.Store, s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := store.Save(settingsBlobKey, data); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// LoadSettingsBlob restores settings previously saved with SaveSettingsBlob.
// The second return reports whether a blob was present.
func LoadSettingsBlob(store kvstore.Store) (Settings, bool, error) {
	data, ok, err := store.Load(settingsBlobKey)
	if err != nil {
		return Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return Settings{}, false, nil
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}
	return s, true, nil
}

// parseInterval parses an auto-update interval and rejects non-positive values.
func parseInterval(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be greater than zero, got %v", d)
	}
	return d, nil
}
