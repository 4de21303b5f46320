package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/runbar/runbar/internal/discovery"
	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/ui"
)

var servicesCmd = &cobra.Command{
	Use:     "services",
	Aliases: []string{"svc"},
	Short:   "Manage configured services",
}

var servicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured services",
	Args:  cobra.NoArgs,
	RunE:  runServicesList,
}

var servicesAddCmd = &cobra.Command{
	Use:   "add [path]",
	Short: "Add a service for a project directory",
	Long: `Add a service for the project at path (default: the current directory).
The name and start command are detected from the project when not given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServicesAdd,
}

var servicesRemoveCmd = &cobra.Command{
	Use:     "remove <service>",
	Aliases: []string{"rm"},
	Short:   "Remove a service and every reference to it",
	Args:    cobra.ExactArgs(1),
	RunE:    runServicesRemove,
}

var servicesScanCmd = &cobra.Command{
	Use:   "scan [root]",
	Short: "Find projects below root that are not configured yet",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServicesScan,
}

var addOpts struct {
	name        string
	command     string
	autoStart   bool
	autoRestart bool
	depends     []string
	env         []string
	delay       int
}

var scanAll bool

func init() {
	f := servicesAddCmd.Flags()
	f.StringVar(&addOpts.name, "name", "", "display name (default: directory name)")
	f.StringVar(&addOpts.command, "command", "", "start command run through the login shell")
	f.BoolVar(&addOpts.autoStart, "auto-start", false, "start with Runbar when global auto-start is on")
	f.BoolVar(&addOpts.autoRestart, "auto-restart", false, "restart after abnormal exits")
	f.StringSliceVar(&addOpts.depends, "depends", nil, "services (id or name) started first")
	f.StringArrayVar(&addOpts.env, "env", nil, "environment override KEY=VALUE (repeatable)")
	f.IntVar(&addOpts.delay, "delay", 0, "milliseconds to wait after dependencies are up")

	servicesScanCmd.Flags().BoolVar(&scanAll, "all", false, "add every project found without asking")

	servicesCmd.AddCommand(servicesListCmd, servicesAddCmd, servicesRemoveCmd, servicesScanCmd)
	rootCmd.AddCommand(servicesCmd)
}

func runServicesList(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(bootOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	views := rt.ctl.Services()
	if len(views) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), ui.Hint("No services configured. Add one with 'runbar services add' or 'runbar services scan'."))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.ServicesTable(views))
	return nil
}

func runServicesAdd(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	rt, err := bootstrap(bootOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	svc, err := buildService(abs)
	if err != nil {
		return err
	}
	for _, ref := range addOpts.depends {
		dep, err := rt.ctl.Registry().Resolve(ref)
		if err != nil {
			return err
		}
		svc.Dependencies = append(svc.Dependencies, dep.ID)
	}

	svc, err = rt.ctl.AddService(svc)
	if err != nil {
		fmt.Fprint(os.Stderr, ui.FormatError("Cannot add service", err.Error(), "pass --command when no start command can be detected"))
		return err
	}
	ui.Success(cmd.OutOrStdout(), fmt.Sprintf("Added %s (%s)", svc.Name, svc.ID))
	return nil
}

// buildService merges the add flags with what can be detected at path.
func buildService(path string) (model.Service, error) {
	detected := discovery.Describe(path)
	svc := model.Service{
		Name:         detected.Name,
		Path:         path,
		Command:      detected.Command,
		ProjectType:  detected.ProjectType,
		AutoStart:    addOpts.autoStart,
		AutoRestart:  addOpts.autoRestart,
		StartupDelay: addOpts.delay,
	}
	if addOpts.name != "" {
		svc.Name = addOpts.name
	}
	if addOpts.command != "" {
		svc.Command = addOpts.command
	}
	if len(addOpts.env) > 0 {
		svc.Env = make(map[string]string, len(addOpts.env))
		for _, kv := range addOpts.env {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				return model.Service{}, fmt.Errorf("invalid --env %q, expected KEY=VALUE", kv)
			}
			svc.Env[key] = value
		}
	}
	return svc, nil
}

func runServicesRemove(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(bootOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	svc, err := rt.ctl.Registry().Resolve(args[0])
	if err != nil {
		return err
	}
	if err := rt.ctl.DeleteService(svc.ID); err != nil {
		return err
	}
	ui.Success(cmd.OutOrStdout(), fmt.Sprintf("Removed %s", svc.Name))
	return nil
}

func runServicesScan(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	rt, err := bootstrap(bootOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	found, err := rt.ctl.Discover(abs)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), ui.Hint("No new projects found under "+abs))
		return nil
	}

	selected := found
	if !scanAll {
		options := make([]huh.Option[int], 0, len(found))
		for i, d := range found {
			label := fmt.Sprintf("%s  %s", d.Name, ui.Hint(d.Path))
			if d.Command == "" {
				label += ui.Hint("  (no start command)")
			}
			options = append(options, huh.NewOption(label, i))
		}
		var picked []int
		form := huh.NewForm(huh.NewGroup(
			huh.NewMultiSelect[int]().
				Title("Add which projects?").
				Options(options...).
				Value(&picked),
		))
		if err := form.RunWithContext(cmd.Context()); err != nil {
			return err
		}
		selected = make([]discovery.Descriptor, 0, len(picked))
		for _, i := range picked {
			selected = append(selected, found[i])
		}
	}

	for _, d := range selected {
		svc, err := rt.ctl.AddDiscovered(d)
		if err != nil {
			ui.Warn(cmd.ErrOrStderr(), fmt.Sprintf("skipped %s: %v", d.Path, err))
			continue
		}
		ui.Success(cmd.OutOrStdout(), fmt.Sprintf("Added %s (%s)", svc.Name, svc.Command))
	}
	return nil
}
