package main

import (
	"os"

	"github.com/bitdabbler/cwlogs/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
