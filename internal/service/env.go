package service

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/runbar/runbar/internal/model"
)

// loadEnvFile loads KEY=value pairs from the .env file in dir. A missing
// file yields no variables and no error.
func loadEnvFile(dir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, ".env"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var envVars []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		envVars = append(envVars, key+"="+unquote(strings.TrimSpace(value)))
	}
	return envVars, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// buildEnv returns the environment for a service: the host environment, then
// the service directory's .env, then the service's own overrides. Later
// entries win.
func buildEnv(svc model.Service, dotenv []string) []string {
	env := os.Environ()
	if svc.ProjectType == "go" {
		env = envForGoRun(env)
	}
	env = append(env, dotenv...)

	keys := make([]string, 0, len(svc.Env))
	for k := range svc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+svc.Env[k])
	}
	return dedupeEnv(env)
}

// envForGoRun sets GOTOOLCHAIN=auto so each project's go.mod toolchain
// requirement is respected.
func envForGoRun(env []string) []string {
	const prefix = "GOTOOLCHAIN="
	out := make([]string, 0, len(env)+1)
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			continue
		}
		out = append(out, e)
	}
	return append(out, prefix+"auto")
}

// dedupeEnv keeps the last value for each key, preserving first-seen order.
func dedupeEnv(env []string) []string {
	index := make(map[string]int, len(env))
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if i, ok := index[key]; ok {
			out[i] = kv
			continue
		}
		index[key] = len(out)
		out = append(out, kv)
	}
	return out
}

// lookupEnv returns the value of key in an environment list.
func lookupEnv(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(env[i], "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}
