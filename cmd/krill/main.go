// Package main is the single-binary entrypoint for krill.
// One binary runs the node, submits tasks and inspects the ledger.
package main

import "github.com/krill-network/krill/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
