package server

import (
	"context"
	"strings"
	"sync"

	"github.com/loghawk/loghawk/internal/models"
)

// UserSettings is the per-user provider and storage configuration held by
// the settings collaborator. Secret material never leaves the store
// unmasked; encryption at rest belongs to the collaborator behind this
// interface, not to this service.
type UserSettings struct {
	Provider string `json:"provider,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
	Bucket   string `json:"bucket,omitempty"`
}

// SettingsStore is the interface to the excluded settings/encryption
// collaborator.
type SettingsStore interface {
	Get(ctx context.Context, userID string) (*UserSettings, error)
	// Put merges the update into the stored settings: fields omitted from
	// the update keep their previously stored values.
	Put(ctx context.Context, userID string, update UserSettings) error
}

// MemorySettings is the in-process SettingsStore used by default and in
// tests.
type MemorySettings struct {
	mu    sync.RWMutex
	users map[string]UserSettings
}

// NewMemorySettings returns an empty settings store.
func NewMemorySettings() *MemorySettings {
	return &MemorySettings{users: make(map[string]UserSettings)}
}

func (m *MemorySettings) Get(_ context.Context, userID string) (*UserSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	out := s
	return &out, nil
}

func (m *MemorySettings) Put(_ context.Context, userID string, update UserSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.users[userID]
	if update.Provider != "" {
		current.Provider = update.Provider
	}
	if update.APIKey != "" {
		current.APIKey = update.APIKey
	}
	if update.Model != "" {
		current.Model = update.Model
	}
	if update.BaseURL != "" {
		current.BaseURL = update.BaseURL
	}
	if update.Bucket != "" {
		current.Bucket = update.Bucket
	}
	m.users[userID] = current
	return nil
}

// Masked returns the settings safe for read-back: the API key is reduced to
// its last four characters.
func (s *UserSettings) Masked() UserSettings {
	out := *s
	out.APIKey = maskSecret(s.APIKey)
	return out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", 8) + s[len(s)-4:]
}

// settingsResolver adapts a SettingsStore to the orchestrator's
// OverrideResolver: stored per-user settings become the middle precedence
// tier between explicit overrides and environment defaults.
type settingsResolver struct {
	store SettingsStore
}

// NewOverrideResolver wraps the settings store for the LLM orchestrator.
func NewOverrideResolver(store SettingsStore) *settingsResolver {
	return &settingsResolver{store: store}
}

func (r *settingsResolver) Resolve(ctx context.Context, userID string) (*models.ProviderOverride, error) {
	s, err := r.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s == nil || (s.Provider == "" && s.APIKey == "") {
		return nil, nil
	}
	return &models.ProviderOverride{
		Provider: s.Provider,
		APIKey:   s.APIKey,
		Model:    s.Model,
		BaseURL:  s.BaseURL,
	}, nil
}
