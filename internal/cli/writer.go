package cli

import (
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleet-rollout/internal/adapters"
	"fleet-rollout/internal/app"
	"fleet-rollout/internal/shared"
)

// writerOptions are the connection flags shared by every command that
// talks to a server as a writer.
type writerOptions struct {
	Server        string
	ConnectionKey string
	SigningKey    string
	Channel       string
}

func bindWriterFlags(cmd *cobra.Command, opts *writerOptions) {
	cmd.Flags().StringVar(&opts.Server, "server", "", "Server address (host:port)")
	cmd.Flags().StringVar(&opts.ConnectionKey, "connection-key", "", "Hex public connection key of the server")
	cmd.Flags().StringVar(&opts.SigningKey, "signing-key", "", "Path to the channel signing key file")
	cmd.Flags().StringVar(&opts.Channel, "channel", "", "Release channel")
	_ = viper.BindPFlag("writer.server", cmd.Flags().Lookup("server"))
	_ = viper.BindPFlag("writer.connection_key", cmd.Flags().Lookup("connection-key"))
	_ = viper.BindPFlag("writer.signing_key", cmd.Flags().Lookup("signing-key"))
	_ = viper.BindPFlag("writer.channel", cmd.Flags().Lookup("channel"))
}

func resolveWriterOptions(cmd *cobra.Command, opts writerOptions) writerOptions {
	return writerOptions{
		Server:        resolveString(cmd, opts.Server, "writer.server", "server"),
		ConnectionKey: resolveString(cmd, opts.ConnectionKey, "writer.connection_key", "connection-key"),
		SigningKey:    resolveString(cmd, opts.SigningKey, "writer.signing_key", "signing-key"),
		Channel:       shared.NormalizeName(resolveString(cmd, opts.Channel, "writer.channel", "channel")),
	}
}

// serverTarget loads the signing key and decodes the server's connection
// key.
func (o writerOptions) serverTarget() (app.ServerTarget, error) {
	if strings.TrimSpace(o.Server) == "" {
		return app.ServerTarget{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("server address is required")
	}
	if strings.TrimSpace(o.SigningKey) == "" {
		return app.ServerTarget{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("signing key file is required")
	}
	key, err := adapters.LoadSigningKeyFile(o.SigningKey)
	if err != nil {
		return app.ServerTarget{}, err
	}
	target := app.ServerTarget{Address: strings.TrimSpace(o.Server), SigningKey: key}
	if conn := strings.TrimSpace(o.ConnectionKey); conn != "" {
		if err := target.ConnectionKey.UnmarshalText([]byte(conn)); err != nil {
			return app.ServerTarget{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("invalid connection key").
				WithCause(err)
		}
		if len(target.ConnectionKey) != 32 {
			return app.ServerTarget{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("connection key must be 32 bytes")
		}
	}
	return target, nil
}
