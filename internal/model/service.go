package model

import (
	"strings"
	"time"
)

// Status represents the runtime state of a service
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Live reports whether a process in this state still holds its service slot.
func (s Status) Live() bool {
	return s == StatusStarting || s == StatusRunning || s == StatusStopping
}

// Service is a configured runnable unit. Runtime state is never persisted here.
type Service struct {
	ID           string            `json:"id" yaml:"id" toml:"id"`
	Name         string            `json:"name" yaml:"name" toml:"name"`
	Path         string            `json:"path" yaml:"path" toml:"path"`
	Command      string            `json:"command" yaml:"command" toml:"command"`
	AutoStart    bool              `json:"autoStart" yaml:"autoStart" toml:"autoStart"`
	AutoRestart  bool              `json:"autoRestart,omitempty" yaml:"autoRestart,omitempty" toml:"autoRestart,omitempty"`
	ProjectType  string            `json:"projectType,omitempty" yaml:"projectType,omitempty" toml:"projectType,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty" toml:"dependencies,omitempty"`
	StartupDelay int               `json:"startupDelay,omitempty" yaml:"startupDelay,omitempty" toml:"startupDelay,omitempty"` // milliseconds
	Env          map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
}

// Delay returns the startup delay as a duration.
func (s Service) Delay() time.Duration {
	if s.StartupDelay <= 0 {
		return 0
	}
	return time.Duration(s.StartupDelay) * time.Millisecond
}

// TrimmedCommand returns the command without surrounding whitespace.
func (s Service) TrimmedCommand() string {
	return strings.TrimSpace(s.Command)
}

// ProcessView is the presentation snapshot of a tracked process
type ProcessView struct {
	ServiceID       string     `json:"serviceId"`
	Name            string     `json:"name"`
	Path            string     `json:"path"`
	Status          Status     `json:"status"`
	PID             int        `json:"pid,omitempty"`
	StartTime       time.Time  `json:"startTime,omitempty"`
	ExitCode        *int       `json:"exitCode,omitempty"`
	Error           string     `json:"error,omitempty"`
	Adopted         bool       `json:"adopted,omitempty"`
	RestartAttempts int        `json:"restartAttempts,omitempty"`
	LastRestart     *time.Time `json:"lastRestart,omitempty"`
}

// ServiceView joins a configured service with its live state
type ServiceView struct {
	Service
	Status          Status     `json:"status"`
	PID             int        `json:"pid,omitempty"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	ExitCode        *int       `json:"exitCode,omitempty"`
	Error           string     `json:"error,omitempty"`
	Adopted         bool       `json:"adopted,omitempty"`
	RestartAttempts int        `json:"restartAttempts,omitempty"`
	LastOutput      []string   `json:"lastOutput,omitempty"` // last lines when in error state
}
