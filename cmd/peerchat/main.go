package main

import (
	"os"

	"github.com/opd-ai/peerchat/cmd/peerchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
