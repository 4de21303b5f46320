package main

import (
	"embed"
	"os"

	"github.com/runbar/runbar/cmd"
)

//go:embed all:frontend/dist
var assets embed.FS

// Version is set for releases (e.g. via -ldflags "-X main.Version=0.1.0").
var Version = "0.1.0"

func main() {
	if err := cmd.Execute(assets, Version); err != nil {
		os.Exit(1)
	}
}
