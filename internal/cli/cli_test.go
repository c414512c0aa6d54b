package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "semctl", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	commands := cmd.Commands()
	names := make(map[string]bool)
	for _, c := range commands {
		names[c.Name()] = true
	}

	assert.True(t, names["enqueue"])
	assert.True(t, names["cancel"])
	assert.True(t, names["logs"])
	assert.True(t, names["status"])
	assert.True(t, names["maintenance"])

	addrFlag := cmd.PersistentFlags().Lookup("addr")
	assert.NotNil(t, addrFlag)
	assert.Equal(t, "http://127.0.0.1:9527", addrFlag.DefValue)
}

func TestBuildEnqueueCommand(t *testing.T) {
	cmd := buildEnqueueCommand()

	assert.Equal(t, "enqueue", cmd.Use)
	typeFlag := cmd.Flags().Lookup("type")
	assert.NotNil(t, typeFlag)
	assert.NotNil(t, cmd.RunE)
}

func TestBuildCancelCommand(t *testing.T) {
	cmd := buildCancelCommand()
	assert.Equal(t, "cancel <job-id>", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}

func TestBuildLogsCommand(t *testing.T) {
	cmd := buildLogsCommand()
	assert.Equal(t, "logs <job-id>", cmd.Use)

	linesFlag := cmd.Flags().Lookup("lines")
	assert.NotNil(t, linesFlag)
	assert.Equal(t, "n", linesFlag.Shorthand)
	assert.Equal(t, "50", linesFlag.DefValue)
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()
	assert.Equal(t, "status", cmd.Use)
	assert.Contains(t, cmd.Short, "statistics")
}

func TestBuildMaintenanceCommand(t *testing.T) {
	cmd := buildMaintenanceCommand()
	assert.Equal(t, "maintenance", cmd.Use)

	forceFlag := cmd.Flags().Lookup("force-vacuum")
	assert.NotNil(t, forceFlag)
	assert.Equal(t, "false", forceFlag.DefValue)
}

func TestRunEnqueue_RejectsInvalidPayload(t *testing.T) {
	err := runEnqueue("send-email", "default", "", "{not json", 0)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}
