package cli

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"fleet-rollout/internal/adapters"
	"fleet-rollout/internal/app"
	"fleet-rollout/internal/policies"
	"fleet-rollout/internal/ports"
)

type serveOptions struct {
	Listen         string
	DataDir        string
	ConnectionKey  string
	WriterKeys     []string
	RequireReader  bool
	MetricsListen  string
	RateLimit      float64
	RateBurst      int
	MaxConnections int
	IdleTimeout    time.Duration
	ImagePackage   string
}

func newServeCommand() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rollout server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Listen, "listen", ":7700", "Address to accept device and writer connections on")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "data", "Directory holding the registry, reader keys and files")
	cmd.Flags().StringVar(&opts.ConnectionKey, "connection-key", "", "Path to the connection key file; enables encrypted sessions")
	cmd.Flags().StringSliceVar(&opts.WriterKeys, "writer-key", nil, "Writer public keys (channel=hex)")
	cmd.Flags().BoolVar(&opts.RequireReader, "require-reader", false, "Reject reads from sessions without a reader key")
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "Address for the Prometheus metrics endpoint (empty disables it)")
	cmd.Flags().Float64Var(&opts.RateLimit, "rate-limit", 200, "Requests per second allowed per connection")
	cmd.Flags().IntVar(&opts.RateBurst, "rate-burst", 400, "Request burst allowed per connection")
	cmd.Flags().IntVar(&opts.MaxConnections, "max-connections", 256, "Concurrent connections served")
	cmd.Flags().DurationVar(&opts.IdleTimeout, "idle-timeout", 2*time.Minute, "Close connections idle for this long")
	cmd.Flags().StringVar(&opts.ImagePackage, "image-package", "", "Package name of root filesystem images")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("server.data_dir", cmd.Flags().Lookup("data-dir"))
	_ = viper.BindPFlag("server.connection_key", cmd.Flags().Lookup("connection-key"))
	_ = viper.BindPFlag("server.writer_keys", cmd.Flags().Lookup("writer-key"))
	_ = viper.BindPFlag("server.require_reader", cmd.Flags().Lookup("require-reader"))
	_ = viper.BindPFlag("server.metrics_listen", cmd.Flags().Lookup("metrics-listen"))
	_ = viper.BindPFlag("server.rate_limit", cmd.Flags().Lookup("rate-limit"))
	_ = viper.BindPFlag("server.rate_burst", cmd.Flags().Lookup("rate-burst"))
	_ = viper.BindPFlag("server.max_connections", cmd.Flags().Lookup("max-connections"))
	_ = viper.BindPFlag("server.idle_timeout", cmd.Flags().Lookup("idle-timeout"))
	_ = viper.BindPFlag("server.image_package", cmd.Flags().Lookup("image-package"))
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	writerKeys, err := parseWriterKeys(resolveStrings(cmd, opts.WriterKeys, "server.writer_keys", "writer-key"))
	if err != nil {
		return err
	}
	var connectionKey *[32]byte
	if path := resolveString(cmd, opts.ConnectionKey, "server.connection_key", "connection-key"); path != "" {
		if connectionKey, err = adapters.LoadConnectionKeyFile(path); err != nil {
			return err
		}
	}

	metricsListen := resolveString(cmd, opts.MetricsListen, "server.metrics_listen", "metrics-listen")
	var metrics ports.MetricsPort = adapters.NopMetrics{}
	var prom *adapters.PrometheusMetrics
	if metricsListen != "" {
		prom = adapters.NewPrometheusMetrics()
		metrics = prom
	}

	server, err := app.OpenServer(ctx, app.ServerConfig{
		DataDir:       resolveString(cmd, opts.DataDir, "server.data_dir", "data-dir"),
		WriterKeys:    writerKeys,
		RequireReader: resolveBool(cmd, opts.RequireReader, "server.require_reader", "require-reader"),
		ImagePackage:  resolveString(cmd, opts.ImagePackage, "server.image_package", "image-package"),
	}, metrics)
	if err != nil {
		return err
	}
	tcp, err := adapters.NewTCPServer(adapters.TCPServerConfig{
		Listen:         resolveString(cmd, opts.Listen, "server.listen", "listen"),
		ConnectionKey:  connectionKey,
		MaxConnections: int64(resolveInt(cmd, opts.MaxConnections, "server.max_connections", "max-connections")),
		RateLimit:      resolveFloat(cmd, opts.RateLimit, "server.rate_limit", "rate-limit"),
		RateBurst:      resolveInt(cmd, opts.RateBurst, "server.rate_burst", "rate-burst"),
		IdleTimeout:    resolveDuration(cmd, opts.IdleTimeout, "server.idle_timeout", "idle-timeout"),
	}, server, metrics)
	if err != nil {
		return err
	}
	if _, err := tcp.Listen(); err != nil {
		return err
	}
	log.Debug().Int("writer_channels", len(writerKeys)).Msg("writer keys loaded")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return tcp.Serve(groupCtx)
	})
	if prom != nil {
		group.Go(func() error {
			return adapters.ServeMetrics(groupCtx, metricsListen, prom)
		})
	}
	return group.Wait()
}

// parseWriterKeys reads channel=hex pairs into the writer key table. One
// key per channel.
func parseWriterKeys(values []string) (map[string]ed25519.PublicKey, error) {
	keys := make(map[string]ed25519.PublicKey, len(values))
	for _, value := range values {
		channel, rawKey, ok := splitPair(value)
		if !ok {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("writer key %q must be channel=hex", value))
		}
		if err := policies.ValidateChannel(channel); err != nil {
			return nil, err
		}
		if _, exists := keys[channel]; exists {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("duplicate writer key for channel %s", channel))
		}
		decoded, err := hex.DecodeString(strings.TrimSpace(rawKey))
		if err != nil || len(decoded) != ed25519.PublicKeySize {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("writer key for channel %s must be %d hex encoded bytes", channel, ed25519.PublicKeySize))
		}
		keys[channel] = ed25519.PublicKey(decoded)
	}
	return keys, nil
}
