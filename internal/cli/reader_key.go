package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleet-rollout/internal/app"
)

type readerKeyOptions struct {
	Writer      writerOptions
	DialTimeout time.Duration
}

func newReaderKeyCommand() *cobra.Command {
	opts := readerKeyOptions{}
	cmd := &cobra.Command{
		Use:   "reader-key",
		Short: "Issue a reader key for devices of a locked down server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReaderKey(cmd.Context(), cmd, opts)
		},
	}
	bindWriterFlags(cmd, &opts.Writer)
	cmd.Flags().DurationVar(&opts.DialTimeout, "dial-timeout", 10*time.Second, "Connection timeout")
	_ = viper.BindPFlag("writer.dial_timeout", cmd.Flags().Lookup("dial-timeout"))
	return cmd
}

func runReaderKey(ctx context.Context, cmd *cobra.Command, opts readerKeyOptions) error {
	writer := resolveWriterOptions(cmd, opts.Writer)
	target, err := writer.serverTarget()
	if err != nil {
		return err
	}
	service := app.NewService(resolveDuration(cmd, opts.DialTimeout, "writer.dial_timeout", "dial-timeout"))
	key, err := service.NewReaderKey(ctx, app.ReaderKeyRequest{Server: target, Channel: writer.Channel})
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}
