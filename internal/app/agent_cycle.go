package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"fleet-rollout/internal/core"
	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

// target is one package, or the image, followed through a cycle.
type target struct {
	name  string
	image bool
	meta  *types.PackageMeta
	state core.UpdateState
}

// cycle is the state of one refresh cycle. It is discarded at the end.
type cycle struct {
	sources   types.SourcesFile
	targets   map[string]*target
	order     []string
	installed map[string]string
	image     *types.PackageVersion
}

// RunCycle runs one refresh: ask every source for every target, download
// what changed, then apply the downloads. extra names packages to fetch
// even if they are not installed.
func (a *Agent) RunCycle(ctx context.Context, extra []string) (types.CycleReport, error) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()
	started := a.Clock()
	report, err := a.runCycle(ctx, extra)
	outcome := "clean"
	switch {
	case err != nil:
		outcome = "error"
		report.Err = err.Error()
	case len(report.FailedSources) > 0:
		outcome = "source_error"
	}
	a.Metrics.ObserveCycle(outcome, a.Clock().Sub(started))
	a.changes.Publish(report)
	return report, err
}

func (a *Agent) runCycle(ctx context.Context, extra []string) (types.CycleReport, error) {
	sources, err := a.Sources.Load(ctx)
	if err != nil {
		return types.CycleReport{}, err
	}
	c, err := a.seed(ctx, sources, extra)
	if err != nil {
		return types.CycleReport{}, err
	}

	var report types.CycleReport
	// Later sources override earlier ones, so they are asked first.
	for i := len(sources.Sources) - 1; i >= 0; i-- {
		source := sources.Sources[i]
		if c.resolved() {
			break
		}
		if err := a.querySource(ctx, c, source); err != nil {
			var abort *cycleAbort
			if errors.As(err, &abort) {
				return report, abort.err
			}
			log.Ctx(ctx).Warn().Err(err).Str("source", sourceName(source)).Msg("source skipped")
			report.FailedSources = append(report.FailedSources, sourceName(source))
		}
	}

	for _, name := range c.order {
		t := c.targets[name]
		t.state = core.Finalize(t.state)
		if _, ok := t.state.(core.NotFound); ok {
			report.NotFound = append(report.NotFound, name)
		}
	}
	if err := a.apply(ctx, c, &report); err != nil {
		return report, err
	}
	report.RestartDevice = report.ImageUpdated
	report.RestartAgent = !report.ImageUpdated && len(report.Updated) > 0
	log.Ctx(ctx).Info().
		Int("updated", len(report.Updated)).
		Int("not_found", len(report.NotFound)).
		Bool("image_updated", report.ImageUpdated).
		Strs("failed_sources", report.FailedSources).
		Msg("update cycle finished")
	return report, nil
}

// seed builds one GatherInfo per installed package, per requested
// package, for the boot package and for the image.
func (a *Agent) seed(ctx context.Context, sources types.SourcesFile, extra []string) (*cycle, error) {
	c := &cycle{sources: sources, targets: map[string]*target{}, installed: map[string]string{}}
	names, err := a.Packages.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		meta, err := a.Packages.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			continue
		}
		known := meta.Version
		c.add(&target{name: name, meta: meta, state: core.GatherInfo{Known: &known, TargetSlot: meta.ActiveSlot.Other()}})
		c.installed[name] = meta.Version.Version
	}
	wanted := append([]string(nil), extra...)
	if sources.BootPackage != "" {
		wanted = append(wanted, sources.BootPackage)
	}
	for _, name := range wanted {
		if _, ok := c.targets[name]; ok || name == a.cfg.ImagePackage {
			continue
		}
		c.add(&target{name: name, state: core.GatherInfo{TargetSlot: types.SlotA}})
	}

	image, err := a.Bootloader.ImageVersion(ctx)
	if err != nil {
		return nil, err
	}
	c.image = image
	c.add(&target{name: a.cfg.ImagePackage, image: true, state: core.GatherInfo{Known: image}})
	sort.Strings(c.order)
	return c, nil
}

func (c *cycle) add(t *target) {
	c.targets[t.name] = t
	c.order = append(c.order, t.name)
}

func (c *cycle) resolved() bool {
	for _, t := range c.targets {
		if !core.Resolved(t.state) {
			return false
		}
	}
	return true
}

func (a *Agent) packageInfoReq(c *cycle, name string) types.PackageInfoReq {
	req := types.PackageInfoReq{
		Channel:   c.sources.Channel,
		Arch:      a.cfg.Arch,
		Name:      name,
		DeviceID:  c.sources.DeviceID,
		Installed: c.installed,
	}
	if c.image != nil {
		version := c.image.Version
		req.ImageVersion = &version
	}
	return req
}

// cycleAbort marks a failure that must stop the whole cycle rather than
// just the current source.
type cycleAbort struct {
	err error
}

func (e *cycleAbort) Error() string { return e.err.Error() }
func (e *cycleAbort) Unwrap() error { return e.err }

// querySource advances every unresolved target with one source's answers.
// Errors abort only this source unless wrapped in cycleAbort.
func (a *Agent) querySource(ctx context.Context, c *cycle, source types.SourceConfig) error {
	logger := log.Ctx(ctx).With().Str("source", sourceName(source)).Logger()
	conn, err := a.Dialer.Dial(ctx, source)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, name := range c.order {
		t := c.targets[name]
		if core.Resolved(t.state) {
			continue
		}
		info, err := conn.PackageInfo(ctx, a.packageInfoReq(c, name))
		if err != nil {
			return err
		}
		if info == nil {
			logger.Debug().Str("package", name).Msg("source has no version")
			continue
		}
		if info.Name != name {
			logger.Warn().Str("package", name).Str("answer", info.Name).Msg("source answered for another package")
			continue
		}
		next, trusted := core.OnPackageInfo(logger.WithContext(ctx), t.state, info, source.SigningKey, a.cfg.PartSize)
		t.state = next
		download, ok := t.state.(core.DownloadFile)
		if !ok || !trusted {
			continue
		}
		if err := a.download(ctx, conn, download.Builder); err != nil {
			if shared.IsKind(err, types.ErrorFileNotFound) {
				logger.Warn().Str("package", name).Str("hash", download.Version.Hash.String()).Msg("source is missing the file")
				t.state = core.GatherInfo{Known: download.Known, TargetSlot: download.TargetSlot}
				continue
			}
			return err
		}
		updated, err := core.CompleteDownload(download)
		if err != nil {
			return &cycleAbort{err: err}
		}
		logger.Info().Str("package", name).Str("version", updated.Version.Version).Msg("download complete")
		t.state = updated
	}
	return nil
}

func (a *Agent) download(ctx context.Context, conn ports.SourceConnPort, builder *core.GetFileBuilder) error {
	for !builder.Done() {
		body, err := conn.GetFilePart(ctx, builder.NextRequest())
		if err != nil {
			return err
		}
		if err := builder.Append(body); err != nil {
			return err
		}
	}
	return nil
}

// apply installs the downloads. Packages are unpacked into their inactive
// slot and switched over; the image goes to the bootloader.
func (a *Agent) apply(ctx context.Context, c *cycle, report *types.CycleReport) error {
	for _, name := range c.order {
		t := c.targets[name]
		updated, ok := t.state.(core.Updated)
		if !ok {
			continue
		}
		if t.image {
			if err := a.applyImage(ctx, updated); err != nil {
				return err
			}
			report.ImageUpdated = true
		} else if err := a.applyPackage(ctx, t, updated); err != nil {
			return err
		}
		report.Updated = append(report.Updated, updated.Version)
	}
	return nil
}

func (a *Agent) applyPackage(ctx context.Context, t *target, updated core.Updated) error {
	staging, err := a.Packages.StagingDir(ctx, t.name)
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)
	if err := a.Archive.Extract(ctx, updated.Data, staging); err != nil {
		return err
	}
	var meta types.PackageMeta
	if t.meta != nil {
		meta = *t.meta
	}
	next := meta.Switch(updated.Version)
	if err := a.Packages.Commit(ctx, t.name, staging, next); err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Str("package", t.name).
		Str("version", updated.Version.Version).
		Str("slot", string(next.ActiveSlot)).
		Msg("package installed")
	return nil
}

func (a *Agent) applyImage(ctx context.Context, updated core.Updated) error {
	tmp, err := os.CreateTemp(a.cfg.DataDir, ".image-*")
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to stage image").
			WithCause(err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	_, err = tmp.Write(updated.Data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to stage image").
			WithCause(err)
	}
	if err := a.Bootloader.Update(ctx, path, updated.Version); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("version", updated.Version.Version).Str("image", filepath.Base(path)).Msg("image written to inactive boot slot")
	return nil
}

func sourceName(source types.SourceConfig) string {
	if source.Name != "" {
		return source.Name
	}
	return source.Address
}
