package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runbar/runbar/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write services, groups and settings to a .json, .yaml or .toml file",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge services, groups and settings from an exported file",
	Long: `Merge an exported bundle into the registry. Records with a known id are
replaced, new ones are added. Nothing is written if the merged result is
invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(bootOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.ctl.Registry().ExportFile(args[0]); err != nil {
		fmt.Fprint(os.Stderr, ui.FormatError("Export failed", err.Error(), ""))
		return err
	}
	ui.Success(cmd.OutOrStdout(), "Exported to "+args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(bootOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	b, err := rt.ctl.Registry().ImportFile(args[0])
	if err != nil {
		fmt.Fprint(os.Stderr, ui.FormatError("Import failed", err.Error(), "the file must be a bundle written by 'runbar export'"))
		return err
	}
	ui.Success(cmd.OutOrStdout(), fmt.Sprintf("Imported %d services and %d groups", len(b.Services), len(b.Groups)))
	return nil
}
