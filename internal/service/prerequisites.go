package service

import (
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"

	"github.com/runbar/runbar/internal/model"
)

type tool struct {
	name     string
	required bool
	args     []string
	purpose  string
}

// CheckPrerequisites returns the status of the tools Runbar and typical
// projects rely on
func CheckPrerequisites() []model.Prerequisite {
	tools := []tool{
		{"lsof", false, []string{"-v"}, "identifies the process holding a busy port"},
		{"git", false, []string{"--version"}, ""},
		{"go", false, []string{"version"}, ""},
		{"node", false, []string{"--version"}, ""},
		{"python3", false, []string{"--version"}, ""},
		{"docker", false, []string{"version", "--format", "{{.Client.Version}}"}, ""},
	}
	if runtime.GOOS == "windows" {
		tools = tools[1:]
	}

	result := make([]model.Prerequisite, 0, len(tools)+1)
	result = append(result, checkShell())
	for _, t := range tools {
		result = append(result, checkTool(t))
	}
	return result
}

// checkShell verifies the shell used to run service commands.
func checkShell() model.Prerequisite {
	shell := "cmd"
	if runtime.GOOS != "windows" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
	}
	p := model.Prerequisite{Name: "shell", Required: true}
	path, err := exec.LookPath(shell)
	if err != nil {
		p.Message = shell + " not found"
		return p
	}
	p.Installed = true
	p.Version = path
	return p
}

func checkTool(t tool) model.Prerequisite {
	path, err := exec.LookPath(t.name)
	if err != nil || path == "" {
		msg := "not found"
		if t.purpose != "" {
			msg += "; " + t.purpose
		}
		return model.Prerequisite{
			Name:      t.name,
			Installed: false,
			Required:  t.required,
			Message:   msg,
		}
	}

	output, err := exec.Command(t.name, t.args...).CombinedOutput()
	out := strings.TrimSpace(string(output))

	version := parseVersion(t.name, out)
	if version == "" && out != "" {
		version = firstLine(out)
	}
	p := model.Prerequisite{
		Name:      t.name,
		Installed: true,
		Version:   version,
		Required:  t.required,
	}
	// lsof -v exits non-zero on some systems even when it works.
	if err != nil && t.name != "lsof" {
		p.Message = err.Error()
	}
	return p
}

func firstLine(s string) string {
	if idx := strings.Index(s, "\n"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

var (
	gitVersionRe    = regexp.MustCompile(`git version (\S+)`)
	goVersionRe     = regexp.MustCompile(`go version go(\S+)`)
	semverRe        = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?)`)
	lsofVersionRe   = regexp.MustCompile(`revision:\s*(\S+)`)
	pythonVersionRe = regexp.MustCompile(`Python (\S+)`)
)

func parseVersion(name, output string) string {
	var re *regexp.Regexp
	line := firstLine(output)
	switch name {
	case "git":
		re = gitVersionRe
	case "go":
		re = goVersionRe
	case "python3":
		re = pythonVersionRe
	case "lsof":
		re = lsofVersionRe
		line = output
	default:
		re = semverRe
	}
	if m := re.FindStringSubmatch(line); len(m) > 1 {
		return m[1]
	}
	return ""
}
