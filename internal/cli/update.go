package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fleet-rollout/internal/app"
)

func newUpdateCommand() *cobra.Command {
	opts := agentOptions{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Run a single update cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpdate(cmd.Context(), cmd, opts)
		},
	}
	bindAgentFlags(cmd, &opts)
	return cmd
}

func runUpdate(ctx context.Context, cmd *cobra.Command, opts agentOptions) error {
	agent := app.NewAgent(ctx, resolveAgentConfig(cmd, opts))
	report, err := agent.RunCycle(ctx, resolveStrings(cmd, opts.Packages, "agent.packages", "package"))
	if err != nil {
		return err
	}
	for _, version := range report.Updated {
		fmt.Printf("updated %s %s\n", version.Name, version.Version)
	}
	if len(report.NotFound) > 0 {
		fmt.Printf("not found: %s\n", strings.Join(report.NotFound, ", "))
	}
	if len(report.FailedSources) > 0 {
		fmt.Printf("unreachable sources: %s\n", strings.Join(report.FailedSources, ", "))
	}
	if len(report.Updated) == 0 {
		fmt.Println("up to date")
	}
	if report.RestartDevice {
		return agent.Bootloader.Restart(ctx)
	}
	if report.RestartAgent {
		fmt.Println("restart the agent service to load the new packages")
	}
	return nil
}
