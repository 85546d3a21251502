// Package main is the entry point for the dynalloc application
package main

import (
	"github.com/ethpandaops/dynalloc/cmd"
)

func main() {
	cmd.Execute()
}
