package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleet-rollout/internal/adapters"
	"fleet-rollout/internal/ports"
)

type disksOptions struct {
	BootDir         string
	DisksDir        string
	Install         string
	Shutdown        bool
	ShutdownCommand []string
}

func newDisksCommand() *cobra.Command {
	opts := disksOptions{}
	cmd := &cobra.Command{
		Use:   "disks",
		Short: "List disks or install the image slots on one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDisks(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.BootDir, "boot-dir", "/var/lib/fleet-rollout/boot", "Directory holding the image slots")
	cmd.Flags().StringVar(&opts.DisksDir, "disks-dir", "", "Block device directory (defaults to /sys/block)")
	cmd.Flags().StringVar(&opts.Install, "install", "", "Disk to install the image slots on")
	cmd.Flags().BoolVar(&opts.Shutdown, "shutdown", false, "Power the device off when done")
	cmd.Flags().StringSliceVar(&opts.ShutdownCommand, "shutdown-command", nil, "Command that powers the device off")
	_ = viper.BindPFlag("disks.boot_dir", cmd.Flags().Lookup("boot-dir"))
	_ = viper.BindPFlag("disks.disks_dir", cmd.Flags().Lookup("disks-dir"))
	_ = viper.BindPFlag("disks.shutdown_command", cmd.Flags().Lookup("shutdown-command"))
	return cmd
}

func runDisks(ctx context.Context, cmd *cobra.Command, opts disksOptions) error {
	bootloader := adapters.NewBootloaderDirAdapter(adapters.BootloaderDirConfig{
		Root:            resolveString(cmd, opts.BootDir, "disks.boot_dir", "boot-dir"),
		DisksDir:        resolveString(cmd, opts.DisksDir, "disks.disks_dir", "disks-dir"),
		ShutdownCommand: resolveStrings(cmd, opts.ShutdownCommand, "disks.shutdown_command", "shutdown-command"),
	})
	if err := disksAction(ctx, bootloader, opts.Install); err != nil {
		return err
	}
	if opts.Shutdown {
		return bootloader.Shutdown(ctx)
	}
	return nil
}

func disksAction(ctx context.Context, bootloader ports.BootloaderPort, install string) error {
	if install != "" {
		if err := bootloader.InstallOn(ctx, install); err != nil {
			return err
		}
		fmt.Printf("installed on %s\n", install)
		return nil
	}
	disks, err := bootloader.Disks(ctx)
	if err != nil {
		return err
	}
	for _, disk := range disks {
		marker := " "
		if disk.Active {
			marker = "*"
		}
		fmt.Printf("%s %s\t%d\n", marker, disk.Name, disk.Size)
	}
	return nil
}
