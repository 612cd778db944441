package main

import (
	"os"

	"github.com/tidalhq/tidal/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
