package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/event"
	"github.com/runbar/runbar/internal/model"
)

func openTemp(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return r
}

func mustAdd(t *testing.T, r *Registry, svc model.Service) model.Service {
	t.Helper()
	added, err := r.AddService(svc)
	require.NoError(t, err)
	return added
}

func TestAddService_AssignsIDAndPersists(t *testing.T) {
	r := openTemp(t)
	svc := mustAdd(t, r, model.Service{Name: " API ", Path: "/p", Command: " npm start "})

	assert.NotEmpty(t, svc.ID)
	assert.Equal(t, "API", svc.Name)
	assert.Equal(t, "npm start", svc.Command)

	reopened, err := Open(r.Dir(), zap.NewNop())
	require.NoError(t, err)
	got, err := reopened.Service(svc.ID)
	require.NoError(t, err)
	assert.Equal(t, "API", got.Name)
}

func TestAddService_ValidationKeepsPriorState(t *testing.T) {
	tests := []struct {
		name  string
		svc   model.Service
		field string
	}{
		{"missing name", model.Service{Path: "/p", Command: "x"}, "name"},
		{"missing path", model.Service{Name: "a", Command: "x"}, "path"},
		{"blank command", model.Service{Name: "a", Path: "/p", Command: "   "}, "command"},
		{"unknown dependency", model.Service{Name: "a", Path: "/p", Command: "x", Dependencies: []string{"nope"}}, "dependencies"},
		{"negative delay", model.Service{Name: "a", Path: "/p", Command: "x", StartupDelay: -1}, "startupDelay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := openTemp(t)
			existing := mustAdd(t, r, model.Service{Name: "keep", Path: "/k", Command: "run"})

			_, err := r.AddService(tt.svc)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)

			services := r.Services()
			require.Len(t, services, 1)
			assert.Equal(t, existing.ID, services[0].ID)
		})
	}
}

func TestUpdateService_NotFound(t *testing.T) {
	r := openTemp(t)
	_, err := r.UpdateService(model.Service{ID: "missing", Name: "a", Path: "/p", Command: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteService_StripsReferences(t *testing.T) {
	r := openTemp(t)
	db := mustAdd(t, r, model.Service{Name: "db", Path: "/db", Command: "db"})
	api := mustAdd(t, r, model.Service{Name: "api", Path: "/api", Command: "api", Dependencies: []string{db.ID}})
	g, err := r.AddGroup(model.Group{Name: "stack", Services: []string{db.ID, api.ID}})
	require.NoError(t, err)

	require.NoError(t, r.DeleteService(db.ID))

	_, err = r.Service(db.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	gotAPI, err := r.Service(api.ID)
	require.NoError(t, err)
	assert.Empty(t, gotAPI.Dependencies)

	gotGroup, err := r.Group(g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{api.ID}, gotGroup.Services)

	assert.ErrorIs(t, r.DeleteService(db.ID), ErrNotFound)
}

func TestAddGroup_RejectsUnknownMember(t *testing.T) {
	r := openTemp(t)
	_, err := r.AddGroup(model.Group{Name: "g", Services: []string{"ghost"}})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, r.Groups())
}

func TestResolve_ByIDThenName(t *testing.T) {
	r := openTemp(t)
	svc := mustAdd(t, r, model.Service{Name: "web", Path: "/w", Command: "serve"})

	byID, err := r.Resolve(svc.ID)
	require.NoError(t, err)
	assert.Equal(t, svc.ID, byID.ID)

	byName, err := r.Resolve("web")
	require.NoError(t, err)
	assert.Equal(t, svc.ID, byName.ID)

	_, err = r.Resolve("nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_MigratesLegacyNameReferences(t *testing.T) {
	dir := t.TempDir()
	services := `{"version": 1, "services": [
		{"id": "db-1", "name": "db", "path": "/db", "command": "db", "status": "running"},
		{"name": "api", "path": "/api", "command": "api", "dependencies": ["db", "ghost"]}
	]}`
	groups := `[{"id": "g1", "name": "stack", "services": ["api", "db", "db-1"]}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ServicesFile), []byte(services), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, GroupsFile), []byte(groups), 0o644))

	r, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	api, err := r.Resolve("api")
	require.NoError(t, err)
	assert.NotEmpty(t, api.ID)
	assert.Equal(t, []string{"db-1"}, api.Dependencies)

	g, err := r.Group("g1")
	require.NoError(t, err)
	assert.Equal(t, []string{api.ID, "db-1"}, g.Services)

	// Written back in the bare array form.
	data, err := os.ReadFile(filepath.Join(dir, ServicesFile))
	require.NoError(t, err)
	assert.Equal(t, byte('['), data[0])
}

func TestOpen_CorruptServicesFallsBackToEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ServicesFile), []byte("{{{"), 0o644))

	r, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, r.Services())

	matches, err := filepath.Glob(filepath.Join(dir, ServicesFile+".corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSettings_DefaultsAndValidation(t *testing.T) {
	r := openTemp(t)
	s := r.Settings()
	assert.Equal(t, model.DefaultSettings(), s)

	s.LogStorageLimit = 0
	_, err := r.UpdateSettings(s)
	assert.ErrorIs(t, err, ErrValidation)

	s.LogStorageLimit = 250
	s.GlobalAutoStart = true
	_, err = r.UpdateSettings(s)
	require.NoError(t, err)
	assert.Equal(t, 250, r.Settings().LogStorageLimit)
	assert.True(t, r.Settings().GlobalAutoStart)
}

func TestSettings_RejectsZeroRestartPolicy(t *testing.T) {
	r := openTemp(t)

	for _, mutate := range []func(*model.Settings){
		func(s *model.Settings) { s.MaxRestartAttempts = 0 },
		func(s *model.Settings) { s.RestartCooldown = 0 },
		func(s *model.Settings) { s.RestartBackoff = 0 },
	} {
		s := r.Settings()
		mutate(&s)
		_, err := r.UpdateSettings(s)
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Equal(t, model.DefaultSettings(), r.Settings())
}

func TestGroupWrites_NeverKeepDeletedMembers(t *testing.T) {
	r := openTemp(t)

	for i := 0; i < 50; i++ {
		svc := mustAdd(t, r, model.Service{Name: "m", Path: "/m", Command: "m"})
		g, err := r.AddGroup(model.Group{Name: "g"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.DeleteService(svc.ID)
		}()
		go func() {
			defer wg.Done()
			_, _ = r.UpdateGroup(model.Group{ID: g.ID, Name: "g", Services: []string{svc.ID}})
		}()
		wg.Wait()

		got, err := r.Group(g.ID)
		require.NoError(t, err)
		assert.NotContains(t, got.Services, svc.ID)
	}
}

func TestSettings_PartialDocumentGetsDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SettingsFile), []byte(`{"version":1,"logStorageLimit":42}`), 0o644))

	r, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	s := r.Settings()
	assert.Equal(t, 42, s.LogStorageLimit)
	assert.Equal(t, 3000, s.StatusPollingInterval)
	assert.Equal(t, 5, s.MaxRestartAttempts)
}

func TestWatch_PublishesOnChange(t *testing.T) {
	r := openTemp(t)
	bus := event.NewBus(8)
	events, cancel := bus.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() { _ = r.Watch(ctx, bus) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	mustAdd(t, r, model.Service{Name: "w", Path: "/w", Command: "w"})

	select {
	case e := <-events:
		assert.Equal(t, event.RegistryChanged, e.Type)
		assert.Equal(t, ServicesFile, e.Message)
	case <-time.After(3 * time.Second):
		t.Fatal("no registry change event")
	}
}
