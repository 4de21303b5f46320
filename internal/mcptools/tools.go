package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/service"
)

// Controller is the subset of the service controller exposed as tools
type Controller interface {
	Services() []model.ServiceView
	Service(id string) (model.ServiceView, error)
	Start(ctx context.Context, id string) (bool, error)
	Stop(id string) (bool, error)
	Restart(ctx context.Context, id string) (bool, error)
	Logs(id string) []string
	Groups() []model.GroupView
	ToggleGroup(ctx context.Context, id string) (service.GroupResult, error)
}

type ListServicesArgs struct {
	Status string `json:"status,omitempty" jsonschema:"only include services in this state (stopped, starting, running, stopping, error)"`
}

type ServiceArgs struct {
	ServiceID string `json:"service_id" jsonschema:"the id or name of a configured service (from list_services)"`
}

type GetServiceLogsArgs struct {
	ServiceID string `json:"service_id" jsonschema:"the id or name of a configured service (from list_services)"`
	Lines     int    `json:"lines,omitempty" jsonschema:"return at most this many of the most recent lines (default: everything retained)"`
}

type GroupArgs struct {
	GroupID string `json:"group_id" jsonschema:"the id or name of a group (from list_groups)"`
}

// actionResult is returned by start, stop and restart.
type actionResult struct {
	Changed bool              `json:"changed"`
	Service model.ServiceView `json:"service"`
}

// Register adds the service tools to server.
func Register(server *mcp.Server, ctl Controller) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "list_services",
		Description: `List every configured service with its live status, pid and restart attempts.

Call this first to find service ids, and to check whether a service is already running before starting it.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ListServicesArgs) (*mcp.CallToolResult, any, error) {
		views := ctl.Services()
		if args.Status != "" {
			filtered := make([]model.ServiceView, 0, len(views))
			for _, v := range views {
				if string(v.Status) == args.Status {
					filtered = append(filtered, v)
				}
			}
			views = filtered
		}
		return jsonResult(views)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "start_service",
		Description: `Start a configured service and its dependencies. Port conflicts are resolved with the configured policy.

Returns changed=false when the service was already running or failed to come up; check get_service_logs in that case.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ServiceArgs) (*mcp.CallToolResult, any, error) {
		return serviceAction(ctl, args.ServiceID, func(id string) (bool, error) { return ctl.Start(ctx, id) })
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stop_service",
		Description: `Stop a running service (SIGINT, then SIGTERM, then SIGKILL once the shutdown timeout expires).`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ServiceArgs) (*mcp.CallToolResult, any, error) {
		return serviceAction(ctl, args.ServiceID, ctl.Stop)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "restart_service",
		Description: `Stop a service if it is running and start it again. Resets its automatic restart counter.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ServiceArgs) (*mcp.CallToolResult, any, error) {
		return serviceAction(ctl, args.ServiceID, func(id string) (bool, error) { return ctl.Restart(ctx, id) })
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "get_service_logs",
		Description: `Get the retained stdout/stderr lines of a service, oldest first.

Use this to debug services that fail to start, crash, or report port conflicts.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args GetServiceLogsArgs) (*mcp.CallToolResult, any, error) {
		view, errResult := resolveService(ctl, args.ServiceID)
		if errResult != nil {
			return errResult, nil, nil
		}
		lines := ctl.Logs(view.ID)
		if args.Lines > 0 && len(lines) > args.Lines {
			lines = lines[len(lines)-args.Lines:]
		}
		return textResult(strings.Join(lines, "\n")), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_groups",
		Description: `List service groups with their members and how many of them are running.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
		return jsonResult(ctl.Groups())
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "toggle_group",
		Description: `Toggle a group: if any member is not running every member is started, otherwise every member is stopped.

Returns the action taken and which members succeeded or failed.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args GroupArgs) (*mcp.CallToolResult, any, error) {
		if args.GroupID == "" {
			return errorResult("group_id is required"), nil, nil
		}
		id := args.GroupID
		for _, g := range ctl.Groups() {
			if g.Name == args.GroupID {
				id = g.ID
				break
			}
		}
		res, err := ctl.ToggleGroup(ctx, id)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		return jsonResult(res)
	})
}

func serviceAction(ctl Controller, ref string, fn func(id string) (bool, error)) (*mcp.CallToolResult, any, error) {
	view, errResult := resolveService(ctl, ref)
	if errResult != nil {
		return errResult, nil, nil
	}
	changed, err := fn(view.ID)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	view, err = ctl.Service(view.ID)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return jsonResult(actionResult{Changed: changed, Service: view})
}

// resolveService accepts an id or a unique service name.
func resolveService(ctl Controller, ref string) (model.ServiceView, *mcp.CallToolResult) {
	if ref == "" {
		return model.ServiceView{}, errorResult("service_id is required")
	}
	if view, err := ctl.Service(ref); err == nil {
		return view, nil
	}
	var match []model.ServiceView
	for _, v := range ctl.Services() {
		if v.Name == ref {
			match = append(match, v)
		}
	}
	switch len(match) {
	case 1:
		return match[0], nil
	case 0:
		return model.ServiceView{}, errorResult(fmt.Sprintf("service %q not found", ref))
	default:
		return model.ServiceView{}, errorResult(fmt.Sprintf("service name %q is ambiguous, use the id", ref))
	}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling response: %w", err)
	}
	return textResult(string(data)), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
	}
}
