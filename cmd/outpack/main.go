package main

import (
	"os"

	"github.com/mrc-ide/outpack-server/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
