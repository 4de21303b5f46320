package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runbar/runbar/internal/model"
	"github.com/runbar/runbar/internal/ui"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage service groups",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups",
	Args:  cobra.NoArgs,
	RunE:  runGroupsList,
}

var groupsAddCmd = &cobra.Command{
	Use:   "add <name> <service>...",
	Short: "Create a group from services (id or name)",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runGroupsAdd,
}

var groupsRemoveCmd = &cobra.Command{
	Use:     "remove <group>",
	Aliases: []string{"rm"},
	Short:   "Remove a group. Its services are kept.",
	Args:    cobra.ExactArgs(1),
	RunE:    runGroupsRemove,
}

var groupAutoStart bool

func init() {
	groupsAddCmd.Flags().BoolVar(&groupAutoStart, "auto-start", false, "start the members with Runbar when global auto-start is on")
	groupsCmd.AddCommand(groupsListCmd, groupsAddCmd, groupsRemoveCmd)
	rootCmd.AddCommand(groupsCmd)
}

func runGroupsList(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(bootOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	views := rt.ctl.Groups()
	if len(views) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), ui.Hint("No groups configured."))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.GroupsTable(views))
	return nil
}

func runGroupsAdd(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(bootOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	g := model.Group{Name: args[0], AutoStart: groupAutoStart}
	for _, ref := range args[1:] {
		svc, err := rt.ctl.Registry().Resolve(ref)
		if err != nil {
			return err
		}
		g.Services = append(g.Services, svc.ID)
	}

	g, err = rt.ctl.AddGroup(g)
	if err != nil {
		return err
	}
	ui.Success(cmd.OutOrStdout(), fmt.Sprintf("Added group %s with %d services", g.Name, len(g.Services)))
	return nil
}

func runGroupsRemove(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(bootOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	g, ok := findGroup(rt.ctl.Registry().Groups(), args[0])
	if !ok {
		return fmt.Errorf("group %q not found", args[0])
	}
	if err := rt.ctl.DeleteGroup(g.ID); err != nil {
		return err
	}
	ui.Success(cmd.OutOrStdout(), fmt.Sprintf("Removed group %s", g.Name))
	return nil
}
