package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/noteflow/modelkit/internal/kvstore"
	"github.com/noteflow/modelkit/internal/logging"
	"github.com/noteflow/modelkit/internal/metrics"
)

// CacheTTL is how long a successful discovery result stays fresh.
const CacheTTL = 24 * time.Hour

// cacheKey names the durable discovery snapshot in the key-value store.
const cacheKey = "model-discovery"

// speechMarkers identifies speech/transcription model families that are
// structurally unsuited to conversational use; they are dropped at
// discovery time, before any downstream filtering.
var speechMarkers = []string{"tts", "transcription", "native-audio", "dialog"}

// Provider-specific defaults filled into discovered entries; the catalog
// endpoint does not supply them.
const (
	defaultInputTokenLimit  = 1048576
	defaultOutputTokenLimit = 65536
)

var defaultGenerationMethods = []string{"generateContent", "streamGenerateContent"}

// ModelInfo describes a single model offered by the provider, with
// provider defaults filled in where the catalog endpoint is silent.
type ModelInfo struct {
	ID                         string   `json:"id"`
	DisplayName                string   `json:"display_name,omitempty"`
	Description                string   `json:"description,omitempty"`
	Version                    string   `json:"version,omitempty"`
	OwnedBy                    string   `json:"owned_by,omitempty"`
	InputTokenLimit            int      `json:"input_token_limit,omitempty"`
	OutputTokenLimit           int      `json:"output_token_limit,omitempty"`
	SupportedGenerationMethods []string `json:"supported_generation_methods,omitempty"`
	MaxTemperature             *float64 `json:"max_temperature,omitempty"`
	TopP                       *float64 `json:"top_p,omitempty"`
}

// DiscoveryResult is the outcome of one discovery attempt, success or not.
// The most recent successful result is retained as the cache and persisted.
type DiscoveryResult struct {
	Models      []ModelInfo `json:"models"`
	LastUpdated time.Time   `json:"last_updated"`
	Success     bool        `json:"success"`
	Error       string      `json:"error,omitempty"`
}

// Valid reports whether the result is a success still inside the TTL window.
func (r DiscoveryResult) Valid(ttl time.Duration) bool {
	return r.Success && time.Since(r.LastUpdated) < ttl
}

// CacheInfo reports cache presence/validity/timestamp for diagnostics.
type CacheInfo struct {
	Present     bool      `json:"present"`
	Valid       bool      `json:"valid"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
	ModelCount  int       `json:"model_count"`
}

// modelList mirrors the provider's GET /models response schema.
type modelList struct {
	Object string `json:"object"`
	Data   []struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// DiscoveryService fetches the provider's model catalog and caches it with a
// TTL. Failures never propagate as errors: a failed attempt returns the
// previous cache when one exists, otherwise an empty failed result.
type DiscoveryService struct {
	apiKey     string
	baseURL    string
	ttl        time.Duration
	httpClient *http.Client
	store      kvstore.Store

	mu    sync.RWMutex
	cache *DiscoveryResult
}

// NewDiscoveryService creates a discovery service. store may be nil, in
// which case results are not persisted across restarts.
func NewDiscoveryService(apiKey, baseURL string, store kvstore.Store) *DiscoveryService {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &DiscoveryService{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		ttl:        CacheTTL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
	}
}

// Discover returns the provider's model catalog. With force false a valid
// cache is returned without a network call; this is the primary cost guard.
func (s *DiscoveryService) Discover(ctx context.Context, force bool) DiscoveryResult {
	log := logging.FromContext(ctx)

	if !force {
		s.mu.RLock()
		cached := s.cache
		s.mu.RUnlock()
		if cached != nil && cached.Valid(s.ttl) {
			metrics.DiscoveryAttempts.WithLabelValues("cache_hit").Inc()
			return *cached
		}
	}

	if s.apiKey == "" {
		metrics.DiscoveryAttempts.WithLabelValues("no_key").Inc()
		return s.failed("api key not configured")
	}

	infos, err := s.fetch(ctx)
	if err != nil {
		metrics.DiscoveryAttempts.WithLabelValues("error").Inc()
		log.Warn("model discovery failed", "error", err.Error())
		return s.failed(err.Error())
	}

	result := DiscoveryResult{
		Models:      infos,
		LastUpdated: time.Now(),
		Success:     true,
	}
	s.mu.Lock()
	s.cache = &result
	s.mu.Unlock()
	s.persist(ctx, result)

	metrics.DiscoveryAttempts.WithLabelValues("success").Inc()
	log.Debug("model discovery completed", "models", len(infos))
	return result
}

// failed returns the stale cache when present, else an empty failed result.
// Discovery failures are silent substitutions; the error only surfaces
// through the status contract.
func (s *DiscoveryService) failed(reason string) DiscoveryResult {
	s.mu.RLock()
	cached := s.cache
	s.mu.RUnlock()
	if cached != nil && cached.Success {
		return *cached
	}
	return DiscoveryResult{LastUpdated: time.Now(), Success: false, Error: reason}
}

// fetch issues the catalog request and normalizes the surviving entries.
func (s *DiscoveryService) fetch(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery request returned %d: %s", resp.StatusCode, string(body))
	}

	var list modelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse model list: %w", err)
	}

	infos := make([]ModelInfo, 0, len(list.Data))
	for _, m := range list.Data {
		id := strings.TrimPrefix(m.ID, "models/")
		if isSpeechFamily(id) {
			continue
		}
		infos = append(infos, ModelInfo{
			ID:                         id,
			DisplayName:                id,
			OwnedBy:                    m.OwnedBy,
			InputTokenLimit:            defaultInputTokenLimit,
			OutputTokenLimit:           defaultOutputTokenLimit,
			SupportedGenerationMethods: defaultGenerationMethods,
		})
	}
	return infos, nil
}

func isSpeechFamily(id string) bool {
	lower := strings.ToLower(id)
	for _, marker := range speechMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// persist writes a successful result to the durable store.
func (s *DiscoveryService) persist(ctx context.Context, result DiscoveryResult) {
	if s.store == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.store.Save(cacheKey, data); err != nil {
		logging.FromContext(ctx).Warn("failed to persist discovery cache", "error", err.Error())
	}
}

// LoadCache restores the durable snapshot into memory so a restart does not
// force an immediate refetch. It reports whether a snapshot was loaded.
func (s *DiscoveryService) LoadCache() bool {
	if s.store == nil {
		return false
	}
	data, ok, err := s.store.Load(cacheKey)
	if err != nil || !ok {
		return false
	}
	var result DiscoveryResult
	if err := json.Unmarshal(data, &result); err != nil || !result.Success {
		return false
	}
	s.mu.Lock()
	s.cache = &result
	s.mu.Unlock()
	return true
}

// ClearCache drops the in-memory cache only; the durable copy remains until
// the next persist.
func (s *DiscoveryService) ClearCache() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

// CacheInfo exposes cache presence/validity/timestamp without side effects.
func (s *DiscoveryService) CacheInfo() CacheInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil {
		return CacheInfo{}
	}
	return CacheInfo{
		Present:     true,
		Valid:       s.cache.Valid(s.ttl),
		LastUpdated: s.cache.LastUpdated,
		ModelCount:  len(s.cache.Models),
	}
}

// CachedModels returns the models from the current cache (valid or stale),
// or nil when no cache exists. Parameter-range derivation uses this.
func (s *DiscoveryService) CachedModels() []ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil {
		return nil
	}
	cp := make([]ModelInfo, len(s.cache.Models))
	copy(cp, s.cache.Models)
	return cp
}
