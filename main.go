package main

import (
	"fmt"
	"os"

	cmd "github.com/agenttic/agenttic/cmd/agenttic"
)

var version = "dev"

func main() {
	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
