package modelkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noteflow/modelkit/internal/kvstore"
	"github.com/noteflow/modelkit/internal/logging"
	"github.com/noteflow/modelkit/internal/metrics"
	"github.com/noteflow/modelkit/models"
	"github.com/noteflow/modelkit/provider"
)

// Source identifies which list a model query was ultimately served from.
// Fallback decisions return it explicitly so callers and tests can assert on
// the path taken instead of inferring it from list contents.
type Source string

// Sources.
const (
	SourceDynamic Source = "dynamic"
	SourceStatic  Source = "static"
)

// ListOptions controls a model-list query.
type ListOptions struct {
	// ForceRefresh bypasses the discovery cache.
	ForceRefresh bool
	// PreserveDefaults merges the static baseline into the dynamic list so
	// baseline entries (and their role defaults) survive discovery.
	PreserveDefaults bool
}

// UpdateResult is the outcome of UpdateModels.
type UpdateResult struct {
	// Settings is the (possibly migrated) settings value.
	Settings Settings `json:"settings"`
	// Changed reports whether the registry was replaced or any per-role
	// setting was migrated.
	Changed bool `json:"changed"`
	// Changes holds human-readable descriptions of settings migrations.
	Changes []string `json:"changes,omitempty"`
}

// RefreshResult is the outcome of RefreshModels. Failures are reported
// structurally, never propagated.
type RefreshResult struct {
	Success    bool   `json:"success"`
	ModelCount int    `json:"model_count"`
	Changed    bool   `json:"changed"`
	Error      string `json:"error,omitempty"`
}

// DiscoveryStatus reports whether discovery is enabled/configured and how
// the most recent cache-tolerant attempt went.
type DiscoveryStatus struct {
	Enabled    bool               `json:"enabled"`
	Configured bool               `json:"configured"`
	LastOK     bool               `json:"last_ok"`
	Error      string             `json:"error,omitempty"`
	Cache      provider.CacheInfo `json:"cache"`
}

// Manager orchestrates discovery, mapping, and filtering, and owns the
// process-wide current model list. Reads of the registry are concurrent-safe
// and replacement is wholesale, never in place.
type Manager struct {
	mu        sync.RWMutex
	settings  Settings
	discovery *provider.DiscoveryService
	registry  *models.Registry
	// static is the baseline substituted when discovery is off or failing.
	static []models.Model
}

// NewManager creates a manager. store may be nil to disable durable caching;
// otherwise a persisted discovery snapshot is reloaded so a restart does not
// force an immediate refetch.
func NewManager(settings Settings, store kvstore.Store) *Manager {
	discovery := provider.NewDiscoveryService(settings.APIKey, settings.BaseURL, store)
	discovery.LoadCache()
	m := &Manager{
		settings:  settings,
		discovery: discovery,
		registry:  models.NewRegistry(models.Defaults()),
		static:    models.Defaults(),
	}
	metrics.RegistryModels.Set(float64(m.registry.Len()))
	return m
}

// Settings returns a copy of the manager's current settings.
func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Registry returns the registry owning the current model list.
func (m *Manager) Registry() *models.Registry { return m.registry }

// Discovery returns the underlying discovery service, for diagnostics.
func (m *Manager) Discovery() *provider.DiscoveryService { return m.discovery }

// DefaultModel implements provider.ModelResolver against the registry.
func (m *Manager) DefaultModel(role string) (string, error) {
	model, err := m.registry.DefaultForRole(models.Role(role))
	if err != nil {
		return "", err
	}
	return model.ID, nil
}

// NewClient builds a completion client from the current settings, with the
// manager as the role-based model resolver.
func (m *Manager) NewClient() *provider.Client {
	s := m.Settings()
	return provider.NewClient(provider.Options{
		APIKey:       s.APIKey,
		BaseURL:      s.BaseURL,
		DefaultModel: s.ChatModelName,
		Resolver:     m,
		Temperature:  s.Temperature,
		TopP:         s.TopP,
		MaxTokens:    s.MaxTokens,
	})
}

// ---------------------------------------------------------------- listings

// AvailableModels returns the role-appropriate conversational model list.
// It never fails: any discovery problem falls back to the static baseline.
func (m *Manager) AvailableModels(ctx context.Context, opts ListOptions) []models.Model {
	list, _ := m.resolveTextModels(ctx, opts)
	return list
}

// ImageGenerationModels returns the image-capable model list. It never
// fails; an empty dynamic candidate set is treated as a filtering defect
// and falls back to the static image list.
func (m *Manager) ImageGenerationModels(ctx context.Context, opts ListOptions) []models.Model {
	list, _ := m.resolveImageModels(ctx, opts)
	return list
}

// resolveTextModels decides the source for the conversational list and
// returns it alongside the filtered models.
func (m *Manager) resolveTextModels(ctx context.Context, opts ListOptions) ([]models.Model, Source) {
	log := logging.FromContext(ctx)
	staticList := models.Filter(m.staticModels(), models.FilterText)

	if !m.Settings().EnableModelDiscovery {
		return staticList, SourceStatic
	}

	result := m.discovery.Discover(ctx, opts.ForceRefresh)
	if !result.Success {
		log.Debug("discovery unavailable, using static models", "error", result.Error)
		return staticList, SourceStatic
	}

	list := models.SortByPreference(models.FromProvider(result.Models))
	if opts.PreserveDefaults {
		list = models.MergeWithDefaults(list, m.staticModels())
	}
	list = models.Filter(list, models.FilterText)
	if len(list) == 0 {
		log.Warn("discovery produced no conversational models, using static models")
		return staticList, SourceStatic
	}
	return list, SourceDynamic
}

// resolveImageModels mirrors resolveTextModels for the image partition,
// backfilling static image models missing from the dynamic set.
func (m *Manager) resolveImageModels(ctx context.Context, opts ListOptions) ([]models.Model, Source) {
	log := logging.FromContext(ctx)
	staticList := models.Filter(m.staticModels(), models.FilterImage)

	if !m.Settings().EnableModelDiscovery {
		return staticList, SourceStatic
	}

	result := m.discovery.Discover(ctx, opts.ForceRefresh)
	if !result.Success {
		log.Debug("discovery unavailable, using static image models", "error", result.Error)
		return staticList, SourceStatic
	}

	// Union, not replace: static image models absent from the dynamic set
	// are backfilled before sorting.
	list := models.MergeWithDefaults(models.FromProvider(result.Models), staticList)
	list = models.Filter(models.SortByPreference(list), models.FilterImage)
	if len(list) == 0 {
		log.Warn("image filtering removed every dynamic candidate, using static image models")
		return staticList, SourceStatic
	}
	return list, SourceDynamic
}

func (m *Manager) staticModels() []models.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make([]models.Model, len(m.static))
	copy(cp, m.static)
	return cp
}

// ----------------------------------------------------------------- updates

// UpdateModels recomputes the available model set, replaces the registry
// when the id set materially changed, and migrates any per-role model-name
// setting that references an id not in the registry to the role's current
// default. Settings are validated even when the id set is unchanged; stale
// selections from an earlier catalog must not survive just because the
// registry itself did not move.
func (m *Manager) UpdateModels(ctx context.Context, settings Settings, opts ListOptions) UpdateResult {
	log := logging.FromContext(ctx)

	text, _ := m.resolveTextModels(ctx, opts)
	images, _ := m.resolveImageModels(ctx, opts)
	combined := models.MergeWithDefaults(text, images)

	replaced := !sameIDSet(m.registry.IDs(), modelIDs(combined))
	if replaced {
		m.registry.Replace(combined)
		metrics.RegistryUpdates.Inc()
		metrics.RegistryModels.Set(float64(len(combined)))
		log.Info("model registry replaced", "models", len(combined))
	}

	available := make(map[string]struct{}, m.registry.Len())
	for _, id := range m.registry.IDs() {
		available[id] = struct{}{}
	}

	result := UpdateResult{Settings: settings}
	roles := []models.Role{
		models.RoleChat,
		models.RoleSummary,
		models.RoleCompletions,
		models.RoleRewrite,
		models.RoleImage,
	}
	for _, role := range roles {
		name := result.Settings.ModelNameForRole(role)
		if name == "" {
			continue
		}
		if _, ok := available[name]; ok {
			continue
		}
		def, err := m.registry.DefaultForRole(role)
		if err != nil {
			// Empty registry after a replace means the baseline was cleared;
			// let the invariant violation surface on the next role resolve.
			continue
		}
		result.Settings.SetModelNameForRole(role, def.ID)
		result.Changes = append(result.Changes,
			fmt.Sprintf("%s model %q is no longer available; switched to %q", role, name, def.ID))
	}
	result.Changed = replaced || len(result.Changes) > 0
	return result
}

// RefreshModels forces an update and reports the resulting model count.
// Any panic is captured and reported as a structured failure.
func (m *Manager) RefreshModels(ctx context.Context) (result RefreshResult) {
	defer func() {
		if r := recover(); r != nil {
			result = RefreshResult{Success: false, Error: fmt.Sprintf("refresh panicked: %v", r)}
		}
	}()

	upd := m.UpdateModels(ctx, m.Settings(), ListOptions{ForceRefresh: true, PreserveDefaults: true})
	count := len(m.AvailableModels(ctx, ListOptions{}))
	return RefreshResult{Success: true, ModelCount: count, Changed: upd.Changed}
}

// DiscoveryStatus reports discovery health without forcing a network call
// beyond the cache-tolerant attempt.
func (m *Manager) DiscoveryStatus(ctx context.Context) DiscoveryStatus {
	s := m.Settings()
	status := DiscoveryStatus{
		Enabled:    s.EnableModelDiscovery,
		Configured: s.APIKey != "",
		Cache:      m.discovery.CacheInfo(),
	}
	if !status.Enabled || !status.Configured {
		return status
	}
	result := m.discovery.Discover(ctx, false)
	status.LastOK = result.Success
	status.Error = result.Error
	status.Cache = m.discovery.CacheInfo()
	return status
}

// StartAutoUpdate refreshes models in the background until ctx is
// cancelled. interval must be greater than zero.
func (m *Manager) StartAutoUpdate(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("StartAutoUpdate: interval must be greater than zero, got %v", interval)
	}
	log := logging.FromContext(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result := m.RefreshModels(ctx)
				if !result.Success {
					log.Error("background model refresh failed", "error", result.Error)
				} else if result.Changed {
					log.Info("background model refresh applied", "models", result.ModelCount)
				}
			}
		}
	}()
	return nil
}

// -------------------------------------------------------------- parameters

// discoveredModels returns the cached discovery metadata used for parameter
// bounds; empty when discovery is disabled or has produced nothing.
func (m *Manager) discoveredModels() []provider.ModelInfo {
	if !m.Settings().EnableModelDiscovery {
		return nil
	}
	return m.discovery.CachedModels()
}

// ParameterRanges derives generation-parameter bounds for modelName.
func (m *Manager) ParameterRanges(modelName string) models.ParameterRanges {
	return models.Ranges(m.discoveredModels(), modelName)
}

// ValidateParameters clamps caller-supplied sampling values into the bounds
// for modelName, returning adjusted values plus advisory warnings.
func (m *Manager) ValidateParameters(temperature, topP *float64, modelName string) models.ParameterValidation {
	return models.ValidateParameters(m.ParameterRanges(modelName), temperature, topP)
}

// ParameterDisplayInfo renders the bounds for modelName as UI text.
func (m *Manager) ParameterDisplayInfo(modelName string) string {
	return m.ParameterRanges(modelName).DisplayInfo()
}

// ----------------------------------------------------------------- helpers

func modelIDs(list []models.Model) []string {
	ids := make([]string, len(list))
	for i, m := range list {
		ids[i] = m.ID
	}
	return ids
}

// sameIDSet compares identifier sets: order differences are not changes,
// size differences always are.
func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
