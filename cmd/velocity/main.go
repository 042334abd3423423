// Command velocity operates the fandom velocity document store and credit
// ledger.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/fandomvelocity/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
