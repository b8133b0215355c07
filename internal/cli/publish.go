package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleet-rollout/internal/app"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

type publishOptions struct {
	Writer             writerOptions
	Name               string
	Version            string
	Arch               string
	Entrypoint         string
	File               string
	Dir                string
	Whitelist          []string
	AutoWhitelistLimit int
	Requires           []string
	DialTimeout        time.Duration
}

func newPublishCommand() *cobra.Command {
	opts := publishOptions{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload, sign and register a package version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPublish(cmd.Context(), cmd, opts)
		},
	}
	bindWriterFlags(cmd, &opts.Writer)
	cmd.Flags().StringVar(&opts.Name, "name", "", "Package name")
	cmd.Flags().StringVar(&opts.Version, "version", "", "Package version (semver)")
	cmd.Flags().StringVar(&opts.Arch, "arch", string(types.ArchAny), "Target architecture")
	cmd.Flags().StringVar(&opts.Entrypoint, "entrypoint", "", "Entrypoint inside the package")
	cmd.Flags().StringVar(&opts.File, "file", "", "Package file to upload as is")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "Directory to pack as tar.zst and upload")
	cmd.Flags().StringSliceVar(&opts.Whitelist, "whitelist", nil, "Hex device ids allowed to receive the version")
	cmd.Flags().IntVar(&opts.AutoWhitelistLimit, "auto-whitelist-limit", 0, "Devices enrolled automatically on first request")
	cmd.Flags().StringSliceVar(&opts.Requires, "requires", nil, "Requirements on installed packages (name=requirement)")
	cmd.Flags().DurationVar(&opts.DialTimeout, "dial-timeout", 10*time.Second, "Connection timeout")
	_ = viper.BindPFlag("publish.name", cmd.Flags().Lookup("name"))
	_ = viper.BindPFlag("publish.version", cmd.Flags().Lookup("version"))
	_ = viper.BindPFlag("publish.arch", cmd.Flags().Lookup("arch"))
	_ = viper.BindPFlag("publish.entrypoint", cmd.Flags().Lookup("entrypoint"))
	_ = viper.BindPFlag("publish.file", cmd.Flags().Lookup("file"))
	_ = viper.BindPFlag("publish.dir", cmd.Flags().Lookup("dir"))
	_ = viper.BindPFlag("publish.whitelist", cmd.Flags().Lookup("whitelist"))
	_ = viper.BindPFlag("publish.auto_whitelist_limit", cmd.Flags().Lookup("auto-whitelist-limit"))
	_ = viper.BindPFlag("publish.requires", cmd.Flags().Lookup("requires"))
	_ = viper.BindPFlag("writer.dial_timeout", cmd.Flags().Lookup("dial-timeout"))
	return cmd
}

func runPublish(ctx context.Context, cmd *cobra.Command, opts publishOptions) error {
	writer := resolveWriterOptions(cmd, opts.Writer)
	target, err := writer.serverTarget()
	if err != nil {
		return err
	}
	whitelist, err := parseDeviceIDs(resolveStrings(cmd, opts.Whitelist, "publish.whitelist", "whitelist"))
	if err != nil {
		return err
	}
	requirements, err := parseRequirements(resolveStrings(cmd, opts.Requires, "publish.requires", "requires"))
	if err != nil {
		return err
	}
	limit := resolveInt(cmd, opts.AutoWhitelistLimit, "publish.auto_whitelist_limit", "auto-whitelist-limit")
	if limit < 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("auto whitelist limit must not be negative")
	}

	service := app.NewService(resolveDuration(cmd, opts.DialTimeout, "writer.dial_timeout", "dial-timeout"))
	result, err := service.Publish(ctx, app.PublishRequest{
		Server:             target,
		Channel:            writer.Channel,
		Name:               shared.NormalizeName(resolveString(cmd, opts.Name, "publish.name", "name")),
		Version:            resolveString(cmd, opts.Version, "publish.version", "version"),
		Arch:               types.Arch(resolveString(cmd, opts.Arch, "publish.arch", "arch")),
		Entrypoint:         resolveString(cmd, opts.Entrypoint, "publish.entrypoint", "entrypoint"),
		Path:               resolveString(cmd, opts.File, "publish.file", "file"),
		Dir:                resolveString(cmd, opts.Dir, "publish.dir", "dir"),
		Whitelist:          whitelist,
		AutoWhitelistLimit: uint32(limit),
		Requirements:       requirements,
	})
	if err != nil {
		return err
	}
	fmt.Printf("published %s %s (%d bytes): %s\n", result.Version.Name, result.Version.Version, result.Size, result.Version.Hash)
	return nil
}

func parseDeviceIDs(values []string) ([]types.DeviceID, error) {
	ids := make([]types.DeviceID, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		id, err := types.ParseDeviceID(value)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid device id %q", value)).
				WithCause(err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseRequirements(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, value := range values {
		name, requirement, ok := splitPair(value)
		if !ok {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("requirement %q must be name=requirement", value))
		}
		out[name] = requirement
	}
	return out, nil
}
