package model

import "time"

// SettingsVersion is the current settings document version
const SettingsVersion = 1

// Settings holds global defaults shared by every component
type Settings struct {
	Version               int      `json:"version" yaml:"version" toml:"version"`
	GlobalAutoStart       bool     `json:"globalAutoStart" yaml:"globalAutoStart" toml:"globalAutoStart"`
	DiscoveryMarkers      []string `json:"discoveryMarkers" yaml:"discoveryMarkers" toml:"discoveryMarkers"`
	LogStorageLimit       int      `json:"logStorageLimit" yaml:"logStorageLimit" toml:"logStorageLimit"`
	StatusPollingInterval int      `json:"statusPollingInterval" yaml:"statusPollingInterval" toml:"statusPollingInterval"` // milliseconds
	AutoUpdateEnabled     bool     `json:"autoUpdateEnabled" yaml:"autoUpdateEnabled" toml:"autoUpdateEnabled"`
	ShutdownTimeout       int      `json:"shutdownTimeout" yaml:"shutdownTimeout" toml:"shutdownTimeout"` // milliseconds
	MaxRestartAttempts    int      `json:"maxRestartAttempts" yaml:"maxRestartAttempts" toml:"maxRestartAttempts"`
	RestartCooldown       int      `json:"restartCooldown" yaml:"restartCooldown" toml:"restartCooldown"` // milliseconds
	RestartBackoff        int      `json:"restartBackoff" yaml:"restartBackoff" toml:"restartBackoff"`    // milliseconds
}

// DefaultSettings returns the settings used when no document exists
func DefaultSettings() Settings {
	return Settings{
		Version:         SettingsVersion,
		GlobalAutoStart: false,
		DiscoveryMarkers: []string{
			"package.json",
			"go.mod",
			"Cargo.toml",
			"pyproject.toml",
			"requirements.txt",
			"manage.py",
			"Gemfile",
			"docker-compose.yml",
			"compose.yaml",
			"Makefile",
		},
		LogStorageLimit:       100,
		StatusPollingInterval: 3000,
		AutoUpdateEnabled:     false,
		ShutdownTimeout:       5000,
		MaxRestartAttempts:    5,
		RestartCooldown:       30000,
		RestartBackoff:        2000,
	}
}

// PollInterval returns the health poll interval.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.StatusPollingInterval) * time.Millisecond
}

// GracefulTimeout returns the shutdown escalation timeout.
func (s Settings) GracefulTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Millisecond
}

// Cooldown returns the restart cooldown window.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.RestartCooldown) * time.Millisecond
}

// Backoff returns the fixed delay before an automatic restart.
func (s Settings) Backoff() time.Duration {
	return time.Duration(s.RestartBackoff) * time.Millisecond
}
