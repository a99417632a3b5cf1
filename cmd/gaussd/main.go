// Command gaussd runs the Gauss streaming data-processing engine.
package main

import (
	"fmt"
	"os"

	"github.com/gauss-stream/gauss/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
