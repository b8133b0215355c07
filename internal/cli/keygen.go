package cli

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"

	"fleet-rollout/internal/adapters"
)

type keygenOptions struct {
	Kind string
	Out  string
}

func newKeygenCommand() *cobra.Command {
	opts := keygenOptions{}
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing or connection key file and print its public key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeygen(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "kind", "signing", "Key kind (signing or connection)")
	cmd.Flags().StringVar(&opts.Out, "out", "", "Path of the key file to create")
	return cmd
}

func runKeygen(_ context.Context, opts keygenOptions) error {
	if opts.Out == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("output path is required")
	}
	var public []byte
	switch opts.Kind {
	case "signing":
		key, err := adapters.GenerateSigningKeyFile(opts.Out)
		if err != nil {
			return err
		}
		public = key
	case "connection":
		key, err := adapters.GenerateConnectionKeyFile(opts.Out)
		if err != nil {
			return err
		}
		public = key[:]
	default:
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unknown key kind %q", opts.Kind))
	}
	fmt.Println(hex.EncodeToString(public))
	return nil
}
