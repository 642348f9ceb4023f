// Package main is the stagerun entrypoint.
package main

import "stagerun/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
