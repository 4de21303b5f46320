package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runbar/runbar/internal/service"
	"github.com/runbar/runbar/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the shell and the toolchains services usually need",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	items := service.CheckPrerequisites()
	fmt.Fprintln(cmd.OutOrStdout(), ui.PrerequisitesTable(items))

	missing := 0
	for _, p := range items {
		if p.Required && !p.Installed {
			missing++
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d required tools missing", missing)
	}
	ui.Success(cmd.OutOrStdout(), "All required tools found")
	return nil
}
