package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/runbar/runbar/internal/model"
)

func TestServicesTable(t *testing.T) {
	started := time.Now().Add(-90 * time.Second)
	out := ServicesTable([]model.ServiceView{
		{Service: model.Service{Name: "api", Path: "/src/api", Command: "go run ."}, Status: model.StatusRunning, PID: 4242, StartTime: &started},
		{Service: model.Service{Name: "web", Path: "/src/web", Command: "npm run dev"}, Status: model.StatusStopped},
		{Service: model.Service{Name: "db", Path: "/src/db", Command: "docker compose up"}, Status: model.StatusRunning, PID: 77, Adopted: true},
	})

	for _, want := range []string{"NAME", "api", "4242", "go run .", "web", "npm run dev", "77 (adopted)"} {
		assert.Contains(t, out, want)
	}
}

func TestGroupsTable(t *testing.T) {
	out := GroupsTable([]model.GroupView{{
		Group:   model.Group{Name: "stack", AutoStart: true},
		Members: []model.ServiceView{{Service: model.Service{Name: "api"}}, {Service: model.Service{Name: "web"}}},
		Running: 1,
	}})

	assert.Contains(t, out, "stack")
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "api, web")
}

func TestFormatError(t *testing.T) {
	out := FormatError("Failed to start", "port busy", "stop the other process")
	assert.Contains(t, out, "Failed to start")
	assert.Contains(t, out, "port busy")
	assert.Contains(t, out, "stop the other process")
}
