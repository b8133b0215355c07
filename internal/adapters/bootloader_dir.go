package adapters

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

const (
	bootActiveFile  = "active"
	bootNextFile    = "next"
	bootDiskFile    = "disk"
	bootImageFile   = "rootfs.img"
	bootVersionFile = "version.yaml"
)

type BootloaderDirConfig struct {
	Root            string
	DisksDir        string
	RestartCommand  []string
	ShutdownCommand []string
}

// BootloaderDirAdapter models A/B boot slots as directories under Root. A
// written image becomes active when the device restarts.
type BootloaderDirAdapter struct {
	cfg BootloaderDirConfig
}

func NewBootloaderDirAdapter(cfg BootloaderDirConfig) BootloaderDirAdapter {
	if cfg.DisksDir == "" {
		cfg.DisksDir = "/sys/block"
	}
	return BootloaderDirAdapter{cfg: cfg}
}

// Disks lists block devices with their size in bytes.
func (a BootloaderDirAdapter) Disks(ctx context.Context) ([]types.Disk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(a.cfg.DisksDir)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to list disks").
			WithCause(err)
	}
	installed, _ := os.ReadFile(filepath.Join(a.cfg.Root, bootDiskFile))
	var disks []types.Disk
	for _, entry := range entries {
		name := entry.Name()
		sectors, err := os.ReadFile(filepath.Join(a.cfg.DisksDir, name, "size"))
		if err != nil {
			continue
		}
		count, err := strconv.ParseUint(strings.TrimSpace(string(sectors)), 10, 64)
		if err != nil {
			continue
		}
		disks = append(disks, types.Disk{
			Name:   name,
			Size:   count * 512,
			Active: strings.TrimSpace(string(installed)) == name,
		})
	}
	sort.Slice(disks, func(i, j int) bool { return disks[i].Name < disks[j].Name })
	return disks, nil
}

// InstallOn prepares both slots and records the chosen disk.
func (a BootloaderDirAdapter) InstallOn(ctx context.Context, name string) error {
	disks, err := a.Disks(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, disk := range disks {
		found = found || disk.Name == name
	}
	if !found {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("disk %s not found", name))
	}
	for _, slot := range []types.Slot{types.SlotA, types.SlotB} {
		if err := os.MkdirAll(filepath.Join(a.cfg.Root, string(slot)), 0o755); err != nil {
			return bootError("failed to create boot slot", err)
		}
	}
	if err := shared.WriteFileAtomic(filepath.Join(a.cfg.Root, bootDiskFile), []byte(name+"\n"), 0o644); err != nil {
		return bootError("failed to record install disk", err)
	}
	if _, err := os.Stat(filepath.Join(a.cfg.Root, bootActiveFile)); os.IsNotExist(err) {
		if err := a.writeSlot(bootActiveFile, types.SlotA); err != nil {
			return err
		}
	}
	return nil
}

// Update copies the image into the inactive slot and marks it to boot
// next. The active slot is never written.
func (a BootloaderDirAdapter) Update(ctx context.Context, imagePath string, version types.PackageVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	active, err := a.activeSlot()
	if err != nil {
		return err
	}
	target := filepath.Join(a.cfg.Root, string(active.Other()))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return bootError("failed to create boot slot", err)
	}
	if err := copyFileAtomic(imagePath, filepath.Join(target, bootImageFile)); err != nil {
		return bootError("failed to write image", err)
	}
	content, err := yaml.Marshal(version)
	if err != nil {
		return bootError("failed to encode image version", err)
	}
	if err := shared.WriteFileAtomic(filepath.Join(target, bootVersionFile), content, 0o644); err != nil {
		return bootError("failed to write image version", err)
	}
	return a.writeSlot(bootNextFile, active.Other())
}

// ImageVersion returns the version of the image in the active slot, or
// nil when none was installed through Update.
func (a BootloaderDirAdapter) ImageVersion(ctx context.Context) (*types.PackageVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	active, err := a.activeSlot()
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(filepath.Join(a.cfg.Root, string(active), bootVersionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, bootError("failed to read image version", err)
	}
	var version types.PackageVersion
	if err := yaml.Unmarshal(content, &version); err != nil {
		return nil, bootError("failed to parse image version", err)
	}
	return &version, nil
}

// Restart switches to the slot marked next and runs the restart command.
func (a BootloaderDirAdapter) Restart(ctx context.Context) error {
	nextPath := filepath.Join(a.cfg.Root, bootNextFile)
	if content, err := os.ReadFile(nextPath); err == nil {
		next := types.Slot(strings.TrimSpace(string(content)))
		if next.Valid() {
			if err := a.writeSlot(bootActiveFile, next); err != nil {
				return err
			}
		}
		if err := os.Remove(nextPath); err != nil {
			return bootError("failed to clear next slot", err)
		}
	}
	return a.run(ctx, "restart", a.cfg.RestartCommand)
}

func (a BootloaderDirAdapter) Shutdown(ctx context.Context) error {
	return a.run(ctx, "shutdown", a.cfg.ShutdownCommand)
}

func (a BootloaderDirAdapter) run(ctx context.Context, what string, command []string) error {
	if len(command) == 0 {
		log.Ctx(ctx).Warn().Str("action", what).Msg("no command configured")
		return nil
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(what + " command failed").
			WithCause(shared.CommandError(output, err))
	}
	return nil
}

func (a BootloaderDirAdapter) activeSlot() (types.Slot, error) {
	content, err := os.ReadFile(filepath.Join(a.cfg.Root, bootActiveFile))
	if err != nil {
		if os.IsNotExist(err) {
			return types.SlotA, nil
		}
		return "", bootError("failed to read active slot", err)
	}
	slot := types.Slot(strings.TrimSpace(string(content)))
	if !slot.Valid() {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("unknown active boot slot %q", slot))
	}
	return slot, nil
}

func (a BootloaderDirAdapter) writeSlot(file string, slot types.Slot) error {
	if err := shared.WriteFileAtomic(filepath.Join(a.cfg.Root, file), []byte(string(slot)+"\n"), 0o644); err != nil {
		return bootError("failed to write "+file+" slot", err)
	}
	return nil
}

func copyFileAtomic(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func bootError(msg string, err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(msg).
		WithCause(err)
}

var _ ports.BootloaderPort = BootloaderDirAdapter{}
