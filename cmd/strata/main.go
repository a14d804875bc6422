// Package main provides the entry point for the strata CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/strata/cmd/strata/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
