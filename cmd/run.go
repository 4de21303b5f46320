package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/runbar/runbar/internal/event"
	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/service"
	"github.com/runbar/runbar/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run <service|group>...",
	Short: "Start services or groups in the foreground and stream their output",
	Long: `Start the named services and groups (by id or name) with their
dependencies, print their output until interrupted, then stop them all.
Port conflicts are asked about on the terminal unless --on-conflict is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(bootOptions{interactive: ui.Prompter{}, background: true})
	if err != nil {
		return err
	}
	defer rt.close()

	targets, err := resolveTargets(rt.ctl, args)
	if err != nil {
		fmt.Fprint(os.Stderr, ui.FormatError("Unknown target", err.Error(), "run 'runbar services list' or 'runbar groups list'"))
		return err
	}

	events, unsubscribe := rt.ctl.Subscribe()
	defer unsubscribe()
	go printOutput(cmd.OutOrStdout(), rt.ctl, events)

	failed := 0
	for _, svc := range targets {
		if ok, err := rt.ctl.Start(cmd.Context(), svc.ID); err != nil || (!ok && rt.ctl.Status(svc.ID) != model.StatusRunning) {
			ui.Warn(cmd.ErrOrStderr(), fmt.Sprintf("%s did not start", svc.Name))
			failed++
		}
	}
	if failed == len(targets) {
		return fmt.Errorf("no service started")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	<-sigChan

	fmt.Fprintln(cmd.ErrOrStderr(), ui.Hint("stopping..."))
	return nil
}

// printOutput writes the output of every service, dependencies included,
// plus status changes, until events is closed.
func printOutput(w io.Writer, ctl *service.Controller, events <-chan event.Event) {
	names := map[string]string{}
	name := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		n := id
		if svc, err := ctl.Registry().Service(id); err == nil {
			n = svc.Name
		}
		names[id] = n
		return n
	}

	for e := range events {
		switch e.Type {
		case event.LogLine:
			fmt.Fprintln(w, ui.LogPrefix(name(e.ServiceID)), e.Line)
		case event.StatusChanged:
			msg := e.Status
			if e.Message != "" {
				msg += ": " + e.Message
			}
			fmt.Fprintln(w, ui.LogPrefix(name(e.ServiceID)), ui.Hint(msg))
		case event.RestartScheduled, event.RestartDisabled, event.PortConflict:
			fmt.Fprintln(w, ui.LogPrefix(name(e.ServiceID)), ui.Hint(e.Message))
		}
	}
}

// resolveTargets expands group references and resolves service names,
// keeping the first occurrence of each service.
func resolveTargets(ctl *service.Controller, refs []string) ([]model.Service, error) {
	reg := ctl.Registry()
	seen := map[string]bool{}
	var out []model.Service
	add := func(svc model.Service) {
		if !seen[svc.ID] {
			seen[svc.ID] = true
			out = append(out, svc)
		}
	}

	for _, ref := range refs {
		if g, ok := findGroup(reg.Groups(), ref); ok {
			for _, id := range g.Services {
				if svc, err := reg.Service(id); err == nil {
					add(svc)
				}
			}
			continue
		}
		svc, err := reg.Resolve(ref)
		if err != nil {
			return nil, err
		}
		add(svc)
	}
	return out, nil
}

func findGroup(groups []model.Group, ref string) (model.Group, bool) {
	for _, g := range groups {
		if g.ID == ref {
			return g, true
		}
	}
	for _, g := range groups {
		if g.Name == ref {
			return g, true
		}
	}
	return model.Group{}, false
}
