package main

import (
	"os"

	"github.com/xelth-com/rentsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
