package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pysugar/hubspot-bridge/internal/cli"
)

func main() {
	_ = godotenv.Load()

	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
