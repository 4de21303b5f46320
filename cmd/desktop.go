package cmd

import (
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/runbar/runbar/internal/desktop"
)

var desktopCmd = &cobra.Command{
	Use:   "desktop",
	Short: "Open the desktop window",
	RunE:  runDesktop,
}

func init() {
	rootCmd.AddCommand(desktopCmd)
}

func runDesktop(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(bootOptions{background: true})
	if err != nil {
		return err
	}
	defer rt.close()

	app := desktop.NewApp(rt.ctl, rt.log.Named("desktop"))
	rt.prompter.install(desktop.NewDialogPrompter(app))

	ui, err := webAssets()
	if err != nil {
		return err
	}
	return desktop.Run(app, ui, version)
}

// webAssets returns the bundled frontend rooted at its dist directory.
func webAssets() (fs.FS, error) {
	if assets == nil {
		return nil, fmt.Errorf("no frontend bundled")
	}
	sub, err := fs.Sub(assets, "frontend/dist")
	if err != nil {
		return nil, fmt.Errorf("failed to open frontend assets: %w", err)
	}
	return sub, nil
}
