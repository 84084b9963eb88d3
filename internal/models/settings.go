package models

import "time"

// Settings is an immutable, versioned snapshot of instance configuration.
// Operations receive a snapshot explicitly instead of reading shared mutable
// state; a new version is published only through an explicit admin reload.
type Settings struct {
	Version              int64
	RequireApproval      bool          // manual/invitation approval before login
	AllowedScopes        []string      // global OAuth scope allow-list
	TrustedMachineWindow time.Duration // lifetime of the trusted-machine cookie
}

// DefaultSettings returns the snapshot used before any admin override.
func DefaultSettings() *Settings {
	return &Settings{
		Version:              1,
		RequireApproval:      false,
		AllowedScopes:        DefaultAllowedScopes,
		TrustedMachineWindow: 30 * 24 * time.Hour,
	}
}
