package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbar/runbar/internal/event"
	"github.com/runbar/runbar/internal/model"
)

func TestParseDecision(t *testing.T) {
	for in, want := range map[string]Decision{
		"ignore": DecisionIgnore,
		" Adopt": DecisionAdopt,
		"KILL":   DecisionKill,
		"":       DecisionIgnore,
	} {
		got, err := ParseDecision(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDecision("restart")
	assert.Error(t, err)
}

func TestConflict_Options(t *testing.T) {
	c := Conflict{Port: 3000}
	assert.Equal(t, []Decision{DecisionIgnore, DecisionAdopt}, c.Options())
	assert.False(t, c.Offers(DecisionKill))

	c.Occupant = &Occupant{PID: 99, Command: "node"}
	assert.Equal(t, []Decision{DecisionIgnore, DecisionAdopt, DecisionKill}, c.Options())
	assert.True(t, c.Offers(DecisionKill))
}

func TestConflict_Describe(t *testing.T) {
	svc := model.Service{Name: "web"}

	c := Conflict{Service: svc, Port: 3000, Occupant: &Occupant{PID: 99, Command: "node"}}
	assert.Equal(t, `Port 3000 needed by "web" is already in use by PID 99 (node).`, c.Describe())

	c = Conflict{Service: svc, PostSpawn: true}
	assert.Equal(t, `"web" reported that its port is already in use.`, c.Describe())
}

func TestResolver_Decide(t *testing.T) {
	svc := model.Service{ID: "svc-1", Name: "web"}
	withPID := Conflict{Service: svc, Port: 3000, Occupant: &Occupant{PID: 99}}
	noPID := Conflict{Service: svc, Port: 3000}

	tests := []struct {
		name     string
		prompter *fakePrompter
		conflict Conflict
		want     Decision
	}{
		{"adopt", &fakePrompter{decision: DecisionAdopt}, noPID, DecisionAdopt},
		{"kill with occupant", &fakePrompter{decision: DecisionKill}, withPID, DecisionKill},
		{"kill without occupant", &fakePrompter{decision: DecisionKill}, noPID, DecisionIgnore},
		{"prompt error", &fakePrompter{decision: DecisionAdopt, err: errors.New("dismissed")}, withPID, DecisionIgnore},
		{"unknown decision", &fakePrompter{decision: "maybe"}, withPID, DecisionIgnore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := event.NewBus(8)
			events, cancel := bus.Subscribe()
			defer cancel()

			r := NewResolver(tt.prompter, nil, bus, nil)
			assert.Equal(t, tt.want, r.Decide(context.Background(), tt.conflict))
			require.Len(t, tt.prompter.asked(), 1)

			e := <-events
			assert.Equal(t, event.PortConflict, e.Type)
			assert.Equal(t, "svc-1", e.ServiceID)
		})
	}
}

func TestResolver_NilPrompterIgnores(t *testing.T) {
	r := NewResolver(nil, nil, nil, nil)
	c := Conflict{Service: model.Service{Name: "web"}, Port: 3000}
	assert.Equal(t, DecisionIgnore, r.Decide(context.Background(), c))
}

func TestResolver_KillWithoutOccupant(t *testing.T) {
	r := NewResolver(nil, nil, nil, nil)
	assert.False(t, r.KillOccupant(context.Background(), Conflict{Port: 3000}, 0))
}
