package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"fleet-rollout/internal/policies"
	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

const packageMetaFile = "package.yaml"

// PackageMetaFileAdapter keeps installed packages under
// Root/<name>/{package.yaml,a,b}.
type PackageMetaFileAdapter struct {
	Root string
}

func NewPackageMetaFileAdapter(root string) PackageMetaFileAdapter {
	return PackageMetaFileAdapter{Root: root}
}

// List returns the names of installed packages.
func (a PackageMetaFileAdapter) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(a.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to list packages").
			WithCause(err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(a.Root, entry.Name(), packageMetaFile)); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load returns nil when the package is not installed.
func (a PackageMetaFileAdapter) Load(ctx context.Context, name string) (*types.PackageMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := policies.ValidatePackageName(name); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(filepath.Join(a.Root, name, packageMetaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to read metadata of %s", name)).
			WithCause(err)
	}
	var meta types.PackageMeta
	if err := yaml.Unmarshal(content, &meta); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("failed to parse metadata of %s", name)).
			WithCause(err)
	}
	if !meta.ActiveSlot.Valid() {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("metadata of %s names unknown slot %q", name, meta.ActiveSlot))
	}
	return &meta, nil
}

// StagingDir creates an empty directory next to the slots to extract into.
func (a PackageMetaFileAdapter) StagingDir(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := policies.ValidatePackageName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(a.Root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create package directory").
			WithCause(err)
	}
	staging, err := os.MkdirTemp(dir, ".staging-")
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create staging directory").
			WithCause(err)
	}
	return staging, nil
}

// Commit moves staging into the slot meta names and then persists meta.
// The slot being replaced must not be the one currently active.
func (a PackageMetaFileAdapter) Commit(ctx context.Context, name string, staging string, meta types.PackageMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := a.Load(ctx, name)
	if err != nil {
		return err
	}
	if current != nil && current.ActiveSlot == meta.ActiveSlot {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("refusing to overwrite active slot %s of %s", meta.ActiveSlot, name))
	}
	target := a.SlotDir(name, meta.ActiveSlot)
	if err := os.RemoveAll(target); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to clear inactive slot").
			WithCause(err)
	}
	if err := os.Rename(staging, target); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to move staging into slot").
			WithCause(err)
	}
	content, err := yaml.Marshal(meta)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode package metadata").
			WithCause(err)
	}
	if err := shared.WriteFileAtomic(filepath.Join(a.Root, name, packageMetaFile), content, 0o644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write package metadata").
			WithCause(err)
	}
	return nil
}

func (a PackageMetaFileAdapter) SlotDir(name string, slot types.Slot) string {
	return filepath.Join(a.Root, name, string(slot))
}

var _ ports.PackageMetaPort = PackageMetaFileAdapter{}
