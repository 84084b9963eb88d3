package config

import (
	"sync/atomic"

	"github.com/aviary-social/aviary/internal/models"
)

// SettingsSource publishes immutable settings snapshots. Handlers take a
// snapshot per request and pass it down; nothing reads the source mid-flight,
// so a concurrent Reload never changes the rules an in-flight operation sees.
type SettingsSource struct {
	current atomic.Pointer[models.Settings]
	version atomic.Int64
}

// NewSettingsSource seeds the source from loaded configuration.
func NewSettingsSource(cfg *AuthConfig) *SettingsSource {
	s := &SettingsSource{}

	snap := models.DefaultSettings()
	snap.RequireApproval = cfg.RequireApproval
	snap.TrustedMachineWindow = cfg.TrustedMachineExpiry
	if len(cfg.AllowedScopes) > 0 {
		snap.AllowedScopes = cfg.AllowedScopes
	}

	s.version.Store(snap.Version)
	s.current.Store(snap)
	return s
}

// Snapshot returns the current immutable settings snapshot.
func (s *SettingsSource) Snapshot() *models.Settings {
	return s.current.Load()
}

// Reload publishes a new snapshot with a bumped version. Called from the
// administrative update path, never lazily.
func (s *SettingsSource) Reload(next models.Settings) *models.Settings {
	next.Version = s.version.Add(1)
	snap := next
	s.current.Store(&snap)
	return &snap
}
