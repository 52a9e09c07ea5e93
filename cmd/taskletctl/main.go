// taskletctl drives tasklet schedulers from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/wildducktheories/tasklet/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
