// Package cli provides the semctl command line interface, based on Cobra.
//
// Command Structure:
//
//	semctl
//	├── enqueue           # Submit a job
//	│   └── --type, --queue, --subject-key, --payload, --priority
//	├── cancel <id>       # Cancel a queued/running job
//	├── logs <id>         # Tail a job's captured stdout/stderr
//	│   └── --lines, -n
//	├── status            # Show daemon statistics
//	├── maintenance       # Trigger a maintenance cycle
//	│   └── --force-vacuum
//	├── --addr            # Daemon RPC address (default http://127.0.0.1:9527)
//	├── --version
//	└── --help
//
// Every subcommand talks to a running daemon over the JSON-RPC 2.0 API in
// internal/jobrpc; semctl itself holds no queue state.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/semantica/task-engine/internal/jobrpc"
)

var rpcAddr string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "semctl",
		Short: "semctl: control plane for the task engine daemon",
		Long: `semctl talks to a running task-engine daemon over JSON-RPC 2.0:
- enqueue and cancel jobs
- tail captured job logs
- inspect queue statistics
- trigger maintenance (GC + vacuum)`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVar(&rpcAddr, "addr", "http://127.0.0.1:9527", "daemon RPC address")

	rootCmd.AddCommand(buildEnqueueCommand())
	rootCmd.AddCommand(buildCancelCommand())
	rootCmd.AddCommand(buildLogsCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildMaintenanceCommand())

	return rootCmd
}

func client() *jobrpc.Client {
	return jobrpc.NewClient(rpcAddr)
}

func ctxWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func buildEnqueueCommand() *cobra.Command {
	var jobType, queue, subjectKey, payload string
	var priority int

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a job",
		Long:  "Enqueue a job onto a queue, optionally content-addressed by --subject-key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobType == "" {
				return fmt.Errorf("job type is required (use --type)")
			}
			return runEnqueue(jobType, queue, subjectKey, payload, priority)
		},
	}

	cmd.Flags().StringVar(&jobType, "type", "", "job type identifier")
	cmd.Flags().StringVar(&queue, "queue", "default", "queue name")
	cmd.Flags().StringVar(&subjectKey, "subject-key", "", "supersede key; enqueuing the same key marks older queued jobs superseded")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority, higher runs first")
	cmd.MarkFlagRequired("type")

	return cmd
}

func runEnqueue(jobType, queue, subjectKey, payload string, priority int) error {
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("payload is not valid JSON")
	}

	ctx, cancel := ctxWithTimeout()
	defer cancel()

	result, err := client().Enqueue(ctx, jobrpc.EnqueueParams{
		JobType:    jobType,
		Queue:      queue,
		SubjectKey: subjectKey,
		Payload:    json.RawMessage(payload),
		Priority:   priority,
	})
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	fmt.Printf("enqueued job %s on queue %q (state=%s)\n", result.JobID, result.Queue, result.State)
	return nil
}

func buildCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := ctxWithTimeout()
			defer cancel()

			result, err := client().Cancel(ctx, args[0])
			if err != nil {
				return fmt.Errorf("cancel failed: %w", err)
			}
			fmt.Printf("job %s cancelled=%v\n", result.JobID, result.Cancelled)
			return nil
		},
	}
	return cmd
}

func buildLogsCommand() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Tail a job's captured stdout/stderr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := ctxWithTimeout()
			defer cancel()

			result, err := client().TailLogs(ctx, args[0], lines)
			if err != nil {
				return fmt.Errorf("logs failed: %w", err)
			}
			for _, line := range result.Lines {
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	return cmd
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := ctxWithTimeout()
			defer cancel()

			stats, err := client().Stats(ctx)
			if err != nil {
				return fmt.Errorf("status failed: %w", err)
			}

			fmt.Println("Task Engine Status")
			fmt.Printf("  Total:    %d\n", stats.TotalJobs)
			fmt.Printf("  Queued:   %d\n", stats.QueuedJobs)
			fmt.Printf("  Running:  %d\n", stats.RunningJobs)
			fmt.Printf("  Done:     %d\n", stats.DoneJobs)
			fmt.Printf("  Failed:   %d\n", stats.FailedJobs)
			fmt.Printf("  DB size:  %d bytes\n", stats.DBSizeBytes)
			fmt.Printf("  Uptime:   %.0fs\n", stats.UptimeSeconds)
			return nil
		},
	}
	return cmd
}

func buildMaintenanceCommand() *cobra.Command {
	var forceVacuum bool

	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run a maintenance cycle (GC terminal jobs, conditional vacuum)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			result, err := client().Maintenance(ctx, forceVacuum)
			if err != nil {
				return fmt.Errorf("maintenance failed: %w", err)
			}

			fmt.Printf("jobs deleted: %d, artifacts deleted: %d, vacuum run: %v (%d -> %d bytes)\n",
				result.JobsDeleted, result.ArtifactsDeleted, result.VacuumRun, result.DBSizeBefore, result.DBSizeAfter)
			return nil
		},
	}

	cmd.Flags().BoolVar(&forceVacuum, "force-vacuum", false, "vacuum unconditionally")
	return cmd
}

// Exit prints err to stderr and exits the process with status 1.
func Exit(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
