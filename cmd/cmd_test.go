package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbar/runbar/internal/event"
	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/registry"
	"github.com/runbar/runbar/internal/service"
)

func newTestController(t *testing.T) *service.Controller {
	t.Helper()
	reg, err := registry.Open(t.TempDir(), nil)
	require.NoError(t, err)
	bus := event.NewBus(16)
	sup := service.NewSupervisor(service.Options{Source: reg, Bus: bus})
	ctl := service.NewController(reg, sup, nil, bus, nil)
	t.Cleanup(ctl.Shutdown)
	return ctl
}

func TestResolveTargets(t *testing.T) {
	ctl := newTestController(t)
	api, err := ctl.AddService(model.Service{Name: "api", Path: t.TempDir(), Command: "sleep 1"})
	require.NoError(t, err)
	web, err := ctl.AddService(model.Service{Name: "web", Path: t.TempDir(), Command: "sleep 1"})
	require.NoError(t, err)
	_, err = ctl.AddGroup(model.Group{Name: "stack", Services: []string{web.ID, api.ID}})
	require.NoError(t, err)

	got, err := resolveTargets(ctl, []string{"stack", "api", web.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, web.ID, got[0].ID)
	assert.Equal(t, api.ID, got[1].ID)

	_, err = resolveTargets(ctl, []string{"nope"})
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestFindGroup_PrefersID(t *testing.T) {
	groups := []model.Group{
		{ID: "g1", Name: "g2"},
		{ID: "g2", Name: "other"},
	}
	g, ok := findGroup(groups, "g2")
	require.True(t, ok)
	assert.Equal(t, "g2", g.ID)

	_, ok = findGroup(groups, "missing")
	assert.False(t, ok)
}

func TestBuildService(t *testing.T) {
	t.Cleanup(func() { addOpts.name, addOpts.command, addOpts.env = "", "", nil })
	dir := t.TempDir()

	addOpts.name = "custom"
	addOpts.command = "make dev"
	addOpts.env = []string{"PORT=3000", "EMPTY="}
	svc, err := buildService(dir)
	require.NoError(t, err)
	assert.Equal(t, "custom", svc.Name)
	assert.Equal(t, dir, svc.Path)
	assert.Equal(t, "make dev", svc.Command)
	assert.Equal(t, map[string]string{"PORT": "3000", "EMPTY": ""}, svc.Env)

	addOpts.env = []string{"novalue"}
	_, err = buildService(dir)
	assert.Error(t, err)
}

type constPrompter service.Decision

func (p constPrompter) Prompt(context.Context, service.Conflict) (service.Decision, error) {
	return service.Decision(p), nil
}

func TestSwitchPrompter(t *testing.T) {
	ctx := context.Background()
	p := &switchPrompter{}

	d, err := p.Prompt(ctx, service.Conflict{})
	require.NoError(t, err)
	assert.Equal(t, service.DecisionIgnore, d)

	p.install(constPrompter(service.DecisionAdopt))
	d, _ = p.Prompt(ctx, service.Conflict{})
	assert.Equal(t, service.DecisionAdopt, d)

	fixed := &switchPrompter{fixed: true}
	fixed.set(service.StaticPrompter{Decision: service.DecisionKill})
	fixed.install(constPrompter(service.DecisionAdopt))
	d, _ = fixed.Prompt(ctx, service.Conflict{})
	assert.Equal(t, service.DecisionKill, d)
}
