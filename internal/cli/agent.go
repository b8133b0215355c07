package cli

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"fleet-rollout/internal/adapters"
	"fleet-rollout/internal/app"
	"fleet-rollout/internal/types"
)

// agentOptions configure the device side. They are shared by the agent
// and update commands.
type agentOptions struct {
	DataDir        string
	Arch           string
	ImagePackage   string
	PartSize       int
	CleanInterval  time.Duration
	ErrorInterval  time.Duration
	DebugInterval  time.Duration
	DialTimeout    time.Duration
	RestartCommand []string
	Packages       []string
	MetricsListen  string
}

func bindAgentFlags(cmd *cobra.Command, opts *agentOptions) {
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "/var/lib/fleet-rollout", "Directory holding sources, packages and boot slots")
	cmd.Flags().StringVar(&opts.Arch, "arch", runtime.GOARCH, "Architecture of this device")
	cmd.Flags().StringVar(&opts.ImagePackage, "image-package", "", "Package name of root filesystem images")
	cmd.Flags().IntVar(&opts.PartSize, "part-size", 0, "Download chunk size in bytes (0 = default)")
	cmd.Flags().DurationVar(&opts.CleanInterval, "clean-interval", 0, "Base wait after a clean cycle (0 = default)")
	cmd.Flags().DurationVar(&opts.ErrorInterval, "error-interval", 0, "Base wait after a failed cycle (0 = default)")
	cmd.Flags().DurationVar(&opts.DebugInterval, "debug-interval", 0, "Fixed wait on the debug channel (0 = default)")
	cmd.Flags().DurationVar(&opts.DialTimeout, "dial-timeout", 10*time.Second, "Connection timeout per source")
	cmd.Flags().StringSliceVar(&opts.RestartCommand, "restart-command", nil, "Command that reboots the device")
	cmd.Flags().StringSliceVar(&opts.Packages, "package", nil, "Packages to fetch even when not installed")
	_ = viper.BindPFlag("agent.data_dir", cmd.Flags().Lookup("data-dir"))
	_ = viper.BindPFlag("agent.arch", cmd.Flags().Lookup("arch"))
	_ = viper.BindPFlag("agent.image_package", cmd.Flags().Lookup("image-package"))
	_ = viper.BindPFlag("agent.part_size", cmd.Flags().Lookup("part-size"))
	_ = viper.BindPFlag("agent.clean_interval", cmd.Flags().Lookup("clean-interval"))
	_ = viper.BindPFlag("agent.error_interval", cmd.Flags().Lookup("error-interval"))
	_ = viper.BindPFlag("agent.debug_interval", cmd.Flags().Lookup("debug-interval"))
	_ = viper.BindPFlag("agent.dial_timeout", cmd.Flags().Lookup("dial-timeout"))
	_ = viper.BindPFlag("agent.restart_command", cmd.Flags().Lookup("restart-command"))
	_ = viper.BindPFlag("agent.packages", cmd.Flags().Lookup("package"))
}

func resolveAgentConfig(cmd *cobra.Command, opts agentOptions) app.AgentConfig {
	partSize := resolveInt(cmd, opts.PartSize, "agent.part_size", "part-size")
	if partSize < 0 {
		partSize = 0
	}
	return app.AgentConfig{
		DataDir:        resolveString(cmd, opts.DataDir, "agent.data_dir", "data-dir"),
		Arch:           types.Arch(resolveString(cmd, opts.Arch, "agent.arch", "arch")),
		ImagePackage:   resolveString(cmd, opts.ImagePackage, "agent.image_package", "image-package"),
		PartSize:       uint64(partSize),
		CleanInterval:  resolveDuration(cmd, opts.CleanInterval, "agent.clean_interval", "clean-interval"),
		ErrorInterval:  resolveDuration(cmd, opts.ErrorInterval, "agent.error_interval", "error-interval"),
		DebugInterval:  resolveDuration(cmd, opts.DebugInterval, "agent.debug_interval", "debug-interval"),
		DialTimeout:    resolveDuration(cmd, opts.DialTimeout, "agent.dial_timeout", "dial-timeout"),
		RestartCommand: resolveStrings(cmd, opts.RestartCommand, "agent.restart_command", "restart-command"),
	}
}

func newAgentCommand() *cobra.Command {
	opts := agentOptions{}
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Keep this device's packages and image up to date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), cmd, opts)
		},
	}
	bindAgentFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "Address for the Prometheus metrics endpoint (empty disables it)")
	_ = viper.BindPFlag("agent.metrics_listen", cmd.Flags().Lookup("metrics-listen"))
	return cmd
}

// runAgent returns nil when the agent stops for a restart; the service
// manager starts it again.
func runAgent(ctx context.Context, cmd *cobra.Command, opts agentOptions) error {
	agent := app.NewAgent(ctx, resolveAgentConfig(cmd, opts))
	metricsListen := resolveString(cmd, opts.MetricsListen, "agent.metrics_listen", "metrics-listen")
	var prom *adapters.PrometheusMetrics
	if metricsListen != "" {
		prom = adapters.NewPrometheusMetrics()
		agent.Metrics = prom
	}
	for _, name := range resolveStrings(cmd, opts.Packages, "agent.packages", "package") {
		if err := agent.Request(ctx, app.FetchRequest{Package: name}); err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(groupCtx)
	defer cancel()
	group.Go(func() error {
		defer cancel()
		err := agent.Run(runCtx)
		switch {
		case errors.Is(err, app.ErrRestartService):
			log.Info().Msg("packages updated, exiting for service restart")
			return nil
		case errors.Is(err, app.ErrRestartDevice):
			log.Info().Msg("image updated, device restarting")
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return err
		}
	})
	if prom != nil {
		group.Go(func() error {
			return adapters.ServeMetrics(runCtx, metricsListen, prom)
		})
	}
	return group.Wait()
}
