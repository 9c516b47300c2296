// Package main provides the entry point for the multivec CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/multivec/cmd/multivec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
