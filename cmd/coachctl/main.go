// Command coachctl administers the motivation journey backend.
package main

import (
	"fmt"
	"os"

	"github.com/vitalis-labs/service_layer/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
