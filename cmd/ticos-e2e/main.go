package main

import (
	"os"

	"github.com/ticos/ticos-e2e/internal/cli"
)

func main() {
	command := cli.NewTicosE2ECommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
