// Package main is the single-binary entrypoint for coreproxy.
package main

import "github.com/corefabric/proxy/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
