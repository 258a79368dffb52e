package main

import (
	"fmt"
	"os"

	"github.com/gemarcano/artemia/internal/cli"
)

func main() {
	if err := cli.Build().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
