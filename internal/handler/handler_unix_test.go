//go:build !windows

package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbar/runbar/internal/model"
)

func TestServiceActions(t *testing.T) {
	s := newTestServer(t)
	svc, err := s.ctl.AddService(model.Service{Name: "api", Path: t.TempDir(), Command: "echo up; sleep 30"})
	require.NoError(t, err)

	code, env := s.do(t, http.MethodPost, "/api/services/"+svc.ID+"/start", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var view model.ServiceView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, model.StatusRunning, view.Status)
	assert.Positive(t, view.PID)

	code, env = s.do(t, http.MethodPost, "/api/services/"+svc.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)

	require.Eventually(t, func() bool { return len(s.ctl.Logs(svc.ID)) > 0 }, 2*time.Second, 20*time.Millisecond)
	code, env = s.do(t, http.MethodGet, "/api/services/"+svc.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, code)
	var lines []string
	require.NoError(t, json.Unmarshal(env.Data, &lines))
	assert.Equal(t, []string{"up"}, lines)

	code, _ = s.do(t, http.MethodPost, "/api/services/"+svc.ID+"/stop", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.StatusStopped, s.ctl.Status(svc.ID))
}

func TestGroupToggleAction(t *testing.T) {
	s := newTestServer(t)
	a, err := s.ctl.AddService(model.Service{Name: "a", Path: t.TempDir(), Command: "sleep 30"})
	require.NoError(t, err)
	g, err := s.ctl.AddGroup(model.Group{Name: "stack", Services: []string{a.ID}})
	require.NoError(t, err)

	code, env := s.do(t, http.MethodPost, "/api/groups/"+g.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Contains(t, string(env.Data), `"action":"start"`)
	assert.Equal(t, model.StatusRunning, s.ctl.Status(a.ID))

	code, env = s.do(t, http.MethodPost, "/api/groups/"+g.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"action":"stop"`)
}

func TestLogStreamSendsEachLineOnce(t *testing.T) {
	s := newTestServer(t)
	svc, err := s.ctl.AddService(model.Service{
		Name:    "ticker",
		Path:    t.TempDir(),
		Command: "echo one; echo two; sleep 0.3; echo three; sleep 30",
	})
	require.NoError(t, err)
	ok, err := s.ctl.Start(context.Background(), svc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(s.ctl.Logs(svc.ID)) >= 2 }, 2*time.Second, 20*time.Millisecond)

	resp, err := http.Get(s.URL + "/api/services/" + svc.ID + "/logs/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		got = append(got, line)
		if line == "three" {
			break
		}
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}
