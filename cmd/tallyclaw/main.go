// Package main is the entry point for the tallyclaw CLI.
package main

import (
	"os"

	"github.com/KafClaw/tallyclaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
