// Command atwf is the operator-facing CLI for the team workflow
// orchestrator: register and hire workers, route messages, gather and
// respond to reply-needed requests, set agent state, and run the watcher.
package main

import (
	"fmt"
	"os"

	"github.com/kunhuang12345/atwf/internal/cli"
	"github.com/kunhuang12345/atwf/internal/domain"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(domain.ExitCode(err))
	}
}
