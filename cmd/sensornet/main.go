// Command sensornet runs periodic queries over a simulated sensor tree.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/sensornet/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sensornet:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
