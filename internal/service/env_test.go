package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbar/runbar/internal/model"
)

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	content := `# database
DB_HOST=localhost
export API_KEY="secret value"
QUOTED='single'
EMPTY=
=novalue
not a pair
PORT=3000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o644))

	env, err := loadEnvFile(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"DB_HOST=localhost",
		"API_KEY=secret value",
		"QUOTED=single",
		"EMPTY=",
		"PORT=3000",
	}, env)
}

func TestLoadEnvFile_Missing(t *testing.T) {
	env, err := loadEnvFile(t.TempDir())
	assert.NoError(t, err)
	assert.Nil(t, env)
}

func TestBuildEnv_Precedence(t *testing.T) {
	t.Setenv("RUNBAR_TEST_LAYER", "host")
	t.Setenv("RUNBAR_TEST_HOST_ONLY", "yes")

	svc := model.Service{Env: map[string]string{"RUNBAR_TEST_LAYER": "service"}}
	env := buildEnv(svc, []string{"RUNBAR_TEST_LAYER=dotenv", "RUNBAR_TEST_DOTENV=1"})

	v, ok := lookupEnv(env, "RUNBAR_TEST_LAYER")
	require.True(t, ok)
	assert.Equal(t, "service", v)

	v, _ = lookupEnv(env, "RUNBAR_TEST_DOTENV")
	assert.Equal(t, "1", v)
	v, _ = lookupEnv(env, "RUNBAR_TEST_HOST_ONLY")
	assert.Equal(t, "yes", v)

	count := 0
	for _, kv := range env {
		if strings.HasPrefix(kv, "RUNBAR_TEST_LAYER=") {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestBuildEnv_GoProjects(t *testing.T) {
	t.Setenv("GOTOOLCHAIN", "local")

	env := buildEnv(model.Service{ProjectType: "go"}, nil)
	v, _ := lookupEnv(env, "GOTOOLCHAIN")
	assert.Equal(t, "auto", v)

	env = buildEnv(model.Service{ProjectType: "node"}, nil)
	v, _ = lookupEnv(env, "GOTOOLCHAIN")
	assert.Equal(t, "local", v)
}

func TestDedupeEnv(t *testing.T) {
	got := dedupeEnv([]string{"A=1", "B=2", "A=3", "C=4"})
	assert.Equal(t, []string{"A=3", "B=2", "C=4"}, got)
}

func TestPortEnv(t *testing.T) {
	assert.Equal(t, map[string]string{"PORT": "4000"}, portEnv([]string{"PORT=3000"}, map[string]string{"PORT": "4000"}))
	assert.Equal(t, map[string]string{"PORT": "3000"}, portEnv([]string{"PORT=3000"}, nil))
	assert.Empty(t, portEnv(nil, nil))
}
