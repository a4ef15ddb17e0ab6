// Command posync runs an offline-first point-of-sale terminal.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/posync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
