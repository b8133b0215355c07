package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleet-rollout/internal/app"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

type whitelistOptions struct {
	Writer      writerOptions
	Name        string
	Arch        string
	Hash        string
	Kind        string
	Devices     []string
	Limit       int
	DialTimeout time.Duration
}

func newWhitelistCommand() *cobra.Command {
	opts := whitelistOptions{}
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Change which devices may receive a published version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWhitelist(cmd.Context(), cmd, opts)
		},
	}
	bindWriterFlags(cmd, &opts.Writer)
	cmd.Flags().StringVar(&opts.Name, "name", "", "Package name")
	cmd.Flags().StringVar(&opts.Arch, "arch", string(types.ArchAny), "Target architecture")
	cmd.Flags().StringVar(&opts.Hash, "hash", "", "Hex hash of the version to change")
	cmd.Flags().StringVar(&opts.Kind, "kind", string(types.WhitelistChangeAdd), "Change kind (replace, add, raise_limit, increment_limit)")
	cmd.Flags().StringSliceVar(&opts.Devices, "device", nil, "Hex device ids for replace and add")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Limit for raise_limit and increment_limit")
	cmd.Flags().DurationVar(&opts.DialTimeout, "dial-timeout", 10*time.Second, "Connection timeout")
	_ = viper.BindPFlag("whitelist.name", cmd.Flags().Lookup("name"))
	_ = viper.BindPFlag("whitelist.arch", cmd.Flags().Lookup("arch"))
	_ = viper.BindPFlag("whitelist.hash", cmd.Flags().Lookup("hash"))
	_ = viper.BindPFlag("whitelist.kind", cmd.Flags().Lookup("kind"))
	_ = viper.BindPFlag("whitelist.devices", cmd.Flags().Lookup("device"))
	_ = viper.BindPFlag("whitelist.limit", cmd.Flags().Lookup("limit"))
	_ = viper.BindPFlag("writer.dial_timeout", cmd.Flags().Lookup("dial-timeout"))
	return cmd
}

func runWhitelist(ctx context.Context, cmd *cobra.Command, opts whitelistOptions) error {
	writer := resolveWriterOptions(cmd, opts.Writer)
	target, err := writer.serverTarget()
	if err != nil {
		return err
	}
	rawHash := resolveString(cmd, opts.Hash, "whitelist.hash", "hash")
	hash, err := types.ParseHash(rawHash)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid hash %q", rawHash)).
			WithCause(err)
	}
	devices, err := parseDeviceIDs(resolveStrings(cmd, opts.Devices, "whitelist.devices", "device"))
	if err != nil {
		return err
	}
	limit := resolveInt(cmd, opts.Limit, "whitelist.limit", "limit")
	if limit < 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("limit must not be negative")
	}
	change := types.WhitelistChange{
		Kind:    types.WhitelistChangeKind(resolveString(cmd, opts.Kind, "whitelist.kind", "kind")),
		Devices: devices,
		Limit:   uint32(limit),
	}

	service := app.NewService(resolveDuration(cmd, opts.DialTimeout, "writer.dial_timeout", "dial-timeout"))
	err = service.ChangeWhitelist(ctx, app.WhitelistRequest{
		Server:  target,
		Channel: writer.Channel,
		Arch:    types.Arch(resolveString(cmd, opts.Arch, "whitelist.arch", "arch")),
		Name:    shared.NormalizeName(resolveString(cmd, opts.Name, "whitelist.name", "name")),
		Hash:    hash,
		Change:  change,
	})
	if err != nil {
		return err
	}
	fmt.Printf("whitelist updated: %s\n", hash)
	return nil
}
