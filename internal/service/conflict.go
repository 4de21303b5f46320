package service

import (
	"context"
	"fmt"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/event"
	"github.com/runbar/runbar/internal/model"
)

// Decision is the answer to a port conflict
type Decision string

const (
	DecisionIgnore Decision = "ignore"
	DecisionAdopt  Decision = "adopt"
	DecisionKill   Decision = "kill"
)

// Label is the human readable form of a decision.
func (d Decision) Label() string {
	switch d {
	case DecisionAdopt:
		return "Adopt as running"
	case DecisionKill:
		return "Kill and start"
	default:
		return "Ignore"
	}
}

// ParseDecision accepts ignore, adopt or kill.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionIgnore, DecisionAdopt, DecisionKill:
		return d, nil
	case "":
		return DecisionIgnore, nil
	default:
		return DecisionIgnore, fmt.Errorf("unknown conflict decision %q (use ignore, adopt or kill)", s)
	}
}

// Conflict describes a start blocked by a busy port
type Conflict struct {
	Service   model.Service
	Port      int       // 0 when the port could not be parsed
	Occupant  *Occupant // nil when the listener is unknown
	PostSpawn bool      // detected from the process's own output
	Line      string    // the log line that revealed a post-spawn conflict
}

// Options lists the decisions that can be offered. Kill needs a target.
func (c Conflict) Options() []Decision {
	if c.Occupant == nil || c.Occupant.PID <= 0 {
		return []Decision{DecisionIgnore, DecisionAdopt}
	}
	return []Decision{DecisionIgnore, DecisionAdopt, DecisionKill}
}

// Offers reports whether d is one of the options.
func (c Conflict) Offers(d Decision) bool {
	for _, o := range c.Options() {
		if o == d {
			return true
		}
	}
	return false
}

// Describe renders the conflict for a prompt.
func (c Conflict) Describe() string {
	var b strings.Builder
	if c.Port > 0 {
		fmt.Fprintf(&b, "Port %d needed by %q is already in use", c.Port, c.Service.Name)
	} else {
		fmt.Fprintf(&b, "%q reported that its port is already in use", c.Service.Name)
	}
	if c.Occupant != nil && c.Occupant.PID > 0 {
		fmt.Fprintf(&b, " by PID %d", c.Occupant.PID)
		if c.Occupant.Command != "" {
			fmt.Fprintf(&b, " (%s)", c.Occupant.Command)
		}
	}
	b.WriteString(".")
	return b.String()
}

// Prompter asks someone what to do about a conflict
type Prompter interface {
	Prompt(ctx context.Context, c Conflict) (Decision, error)
}

// StaticPrompter answers every conflict the same way. Used where nobody can
// be asked.
type StaticPrompter struct {
	Decision Decision
}

// Prompt returns the fixed decision.
func (p StaticPrompter) Prompt(ctx context.Context, c Conflict) (Decision, error) {
	return p.Decision, nil
}

// Resolver runs the conflict decision protocol
type Resolver struct {
	prompter  Prompter
	inspector PortInspector
	bus       *event.Bus
	log       *zap.Logger
}

// NewResolver creates a resolver. A nil prompter ignores every conflict.
func NewResolver(prompter Prompter, inspector PortInspector, bus *event.Bus, log *zap.Logger) *Resolver {
	if prompter == nil {
		prompter = StaticPrompter{Decision: DecisionIgnore}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{prompter: prompter, inspector: inspector, bus: bus, log: log}
}

// Decide asks the prompter. Errors and decisions that were not offered fall
// back to Ignore.
func (r *Resolver) Decide(ctx context.Context, c Conflict) Decision {
	r.bus.Publish(event.Event{
		Type:      event.PortConflict,
		ServiceID: c.Service.ID,
		Message:   c.Describe(),
	})

	d, err := r.prompter.Prompt(ctx, c)
	if err != nil {
		r.log.Warn("conflict prompt failed, ignoring",
			zap.String("service", c.Service.Name), zap.Int("port", c.Port), zap.Error(err))
		d = DecisionIgnore
	}
	if !c.Offers(d) {
		r.log.Warn("conflict decision not offered, ignoring",
			zap.String("service", c.Service.Name), zap.String("decision", string(d)))
		d = DecisionIgnore
	}

	conflictsTotal.WithLabelValues(string(d)).Inc()
	r.log.Info("port conflict resolved",
		zap.String("service", c.Service.Name),
		zap.Int("port", c.Port),
		zap.String("decision", string(d)),
		zap.Bool("post_spawn", c.PostSpawn))
	return d
}

// KillOccupant terminates the process holding the port and waits up to
// timeout for the port to free, force killing once the timeout passes.
// It reports whether the port is free afterwards.
func (r *Resolver) KillOccupant(ctx context.Context, c Conflict, timeout time.Duration) bool {
	if c.Occupant == nil || c.Occupant.PID <= 0 {
		return false
	}
	pid := c.Occupant.PID

	if err := signalProcess(pid, false, syscall.SIGTERM); err != nil {
		r.log.Warn("failed to terminate port occupant", zap.Int("pid", pid), zap.Error(err))
	}
	if r.waitFree(ctx, c.Port, pid, timeout) {
		return true
	}

	r.log.Warn("port occupant still alive, force killing", zap.Int("pid", pid), zap.Int("port", c.Port))
	if err := signalProcess(pid, false, syscall.SIGKILL); err != nil {
		r.log.Warn("failed to kill port occupant", zap.Int("pid", pid), zap.Error(err))
	}
	return r.waitFree(ctx, c.Port, pid, time.Second)
}

func (r *Resolver) waitFree(ctx context.Context, port, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		free := !pidAlive(pid)
		if port > 0 && r.inspector != nil {
			free = !r.inspector.InUse(port)
		}
		if free {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
