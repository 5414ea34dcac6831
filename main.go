package main

import (
	"fmt"
	"os"

	"github.com/bmruszaj/cabplanner/cmd"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.0.0"

func main() {
	if err := cmd.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
