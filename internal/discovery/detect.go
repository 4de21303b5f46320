// Package discovery proposes services by looking for project marker files
// under a root folder.
package discovery

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Descriptor is a candidate service found on disk
type Descriptor struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Command     string `json:"command"`
	ProjectType string `json:"projectType"`
}

// DefaultDepth is how many directory levels below root are searched.
const DefaultDepth = 3

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	"venv":         true,
}

// Scan walks root up to depth levels and returns one descriptor per
// directory holding any of the marker files. Directories inside a detected
// project are not searched further.
func Scan(root string, markers []string, depth int) ([]Descriptor, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	if depth <= 0 {
		depth = DefaultDepth
	}

	var found []Descriptor
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable directories are skipped, not fatal.
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
			return fs.SkipDir
		}
		if levels(root, path) > depth {
			return fs.SkipDir
		}
		if !hasAnyMarker(path, markers) {
			return nil
		}

		found = append(found, Describe(path))
		if path != root {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found, nil
}

func levels(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

func hasAnyMarker(dir string, markers []string) bool {
	for _, m := range markers {
		if exists(filepath.Join(dir, m)) {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Describe builds a descriptor for a single project directory.
func Describe(dir string) Descriptor {
	projectType := DetectProjectType(dir)
	return Descriptor{
		Name:        filepath.Base(dir),
		Path:        dir,
		Command:     suggestCommand(dir, projectType),
		ProjectType: projectType,
	}
}

// DetectProjectType returns the primary kind of project, based on manifest
// files and common conventions.
func DetectProjectType(dir string) string {
	switch {
	case exists(filepath.Join(dir, "go.mod")):
		return "go"
	case exists(filepath.Join(dir, "Cargo.toml")):
		return "rust"
	case exists(filepath.Join(dir, "package.json")):
		if exists(filepath.Join(dir, "tsconfig.json")) {
			return "typescript"
		}
		return "javascript"
	case exists(filepath.Join(dir, "manage.py")):
		return "django"
	case exists(filepath.Join(dir, "pyproject.toml")),
		exists(filepath.Join(dir, "setup.py")),
		exists(filepath.Join(dir, "requirements.txt")):
		return "python"
	case exists(filepath.Join(dir, "Gemfile")):
		return "ruby"
	case exists(filepath.Join(dir, "docker-compose.yml")), exists(filepath.Join(dir, "compose.yaml")):
		return "docker"
	case exists(filepath.Join(dir, "Makefile")):
		return "make"
	}
	return ""
}

func suggestCommand(dir, projectType string) string {
	switch projectType {
	case "go":
		return goCommand(dir)
	case "rust":
		return "cargo run"
	case "javascript", "typescript":
		return nodeCommand(dir)
	case "django":
		return "python manage.py runserver"
	case "python":
		for _, entry := range []string{"main.py", "app.py", "server.py"} {
			if exists(filepath.Join(dir, entry)) {
				return "python " + entry
			}
		}
		return "python -m " + filepath.Base(dir)
	case "ruby":
		if exists(filepath.Join(dir, "bin", "rails")) {
			return "bin/rails server"
		}
		return "bundle exec rackup"
	case "docker":
		return "docker compose up"
	case "make":
		return "make run"
	}
	return ""
}

// goCommand prefers a single binary under cmd/.
func goCommand(dir string) string {
	entries, err := os.ReadDir(filepath.Join(dir, "cmd"))
	if err == nil {
		var mains []string
		for _, e := range entries {
			if e.IsDir() {
				mains = append(mains, e.Name())
			}
		}
		if len(mains) == 1 {
			return "go run ./cmd/" + mains[0]
		}
	}
	return "go run ."
}

func nodeCommand(dir string) string {
	runner := "npm"
	switch {
	case exists(filepath.Join(dir, "pnpm-lock.yaml")):
		runner = "pnpm"
	case exists(filepath.Join(dir, "yarn.lock")):
		runner = "yarn"
	case exists(filepath.Join(dir, "bun.lockb")):
		runner = "bun"
	}

	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if data, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
		_ = json.Unmarshal(data, &pkg)
	}
	for _, script := range []string{"dev", "start", "serve"} {
		if _, ok := pkg.Scripts[script]; ok {
			if runner == "npm" && script != "start" {
				return "npm run " + script
			}
			if runner == "npm" {
				return "npm start"
			}
			return runner + " " + script
		}
	}
	return runner + " start"
}
