package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbar/runbar/internal/model"
)

func seed(t *testing.T, r *Registry) {
	t.Helper()
	db := mustAdd(t, r, model.Service{Name: "db", Path: "/db", Command: "postgres", StartupDelay: 1500})
	api := mustAdd(t, r, model.Service{
		Name:         "api",
		Path:         "/api",
		Command:      "PORT=8080 go run .",
		AutoStart:    true,
		ProjectType:  "go",
		Dependencies: []string{db.ID},
		Env:          map[string]string{"DEBUG": "1"},
	})
	_, err := r.AddGroup(model.Group{Name: "stack", Services: []string{db.ID, api.ID}, AutoStart: true})
	require.NoError(t, err)
}

func TestExportImport_RoundTrip(t *testing.T) {
	for _, ext := range []string{".json", ".yaml", ".toml"} {
		t.Run(ext, func(t *testing.T) {
			src := openTemp(t)
			seed(t, src)

			path := filepath.Join(t.TempDir(), "bundle"+ext)
			require.NoError(t, src.ExportFile(path))

			dst := openTemp(t)
			_, err := dst.ImportFile(path)
			require.NoError(t, err)

			assert.Equal(t, src.Services(), dst.Services())
			assert.Equal(t, src.Groups(), dst.Groups())
			assert.Equal(t, src.Settings(), dst.Settings())
		})
	}
}

func TestImport_RejectsVersionWithoutMutation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing version", `{"services": [{"name": "x", "path": "/x", "command": "x"}]}`},
		{"future version", `{"version": 99, "services": [{"name": "x", "path": "/x", "command": "x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := openTemp(t)
			seed(t, r)
			before := r.Export()

			path := filepath.Join(t.TempDir(), "in.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			_, err := r.ImportFile(path)
			assert.ErrorIs(t, err, ErrUnsupportedVersion)
			assert.Equal(t, before, r.Export())
		})
	}
}

func TestImport_InvalidEntryWritesNothing(t *testing.T) {
	r := openTemp(t)
	seed(t, r)
	before := r.Export()

	err := r.Import(Bundle{
		Version: BundleVersion,
		Services: []model.Service{
			{Name: "ok", Path: "/ok", Command: "ok"},
			{Name: "broken", Path: "/b"},
		},
	})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, before, r.Export())
}

func TestImport_ResolvesNamesAndMergesByID(t *testing.T) {
	r := openTemp(t)
	seed(t, r)
	api, err := r.Resolve("api")
	require.NoError(t, err)

	updated := api
	updated.Command = "go run ./cmd/api"
	err = r.Import(Bundle{
		Version: BundleVersion,
		Services: []model.Service{
			updated,
			{Name: "worker", Path: "/worker", Command: "worker", Dependencies: []string{"api"}},
		},
		Groups: []model.Group{{Name: "bg", Services: []string{"worker"}}},
	})
	require.NoError(t, err)

	assert.Len(t, r.Services(), 3)
	gotAPI, err := r.Service(api.ID)
	require.NoError(t, err)
	assert.Equal(t, "go run ./cmd/api", gotAPI.Command)

	worker, err := r.Resolve("worker")
	require.NoError(t, err)
	assert.Equal(t, []string{api.ID}, worker.Dependencies)

	groups := r.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, []string{worker.ID}, groups[1].Services)
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"a.json", FormatJSON, false},
		{"a.YAML", FormatYAML, false},
		{"a.yml", FormatYAML, false},
		{"a.toml", FormatTOML, false},
		{"a.ini", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFromPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImport_ConcurrentAddsAreKept(t *testing.T) {
	r := openTemp(t)

	bundle := Bundle{Version: BundleVersion}
	for i := 0; i < 2000; i++ {
		bundle.Services = append(bundle.Services, model.Service{
			ID:      fmt.Sprintf("imported-%d", i),
			Name:    fmt.Sprintf("imported-%d", i),
			Path:    fmt.Sprintf("/imported/%d", i),
			Command: "true",
		})
	}

	var wg sync.WaitGroup
	var added []string
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			svc, err := r.AddService(model.Service{Name: fmt.Sprintf("added-%d", i), Path: fmt.Sprintf("/added/%d", i), Command: "true"})
			if err == nil {
				added = append(added, svc.ID)
			}
		}
	}()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Import(bundle))
	}
	close(done)
	wg.Wait()

	stored := idSet(r.Services())
	assert.Len(t, stored, len(bundle.Services)+len(added))
	for _, id := range added {
		assert.True(t, stored[id], "acknowledged service %s was lost", id)
	}
}

func TestImport_RejectsZeroRestartSettings(t *testing.T) {
	r := openTemp(t)
	settings := model.DefaultSettings()
	settings.MaxRestartAttempts = 0

	err := r.Import(Bundle{Version: BundleVersion, Settings: &settings})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, model.DefaultSettings(), r.Settings())
}
