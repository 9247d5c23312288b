package main

import (
	"os"

	"github.com/dotcommander/exceptd/internal/commands"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
