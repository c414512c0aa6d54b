// Command semctl is the control-plane CLI for the task engine daemon.
//
// Usage:
//
//	semctl enqueue --type send-email --payload '{"to":"a@b.com"}'
//	semctl cancel <job-id>
//	semctl logs <job-id> -n 100
//	semctl status
//	semctl maintenance --force-vacuum
package main

import (
	"fmt"
	"os"

	"github.com/semantica/task-engine/internal/cli"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
