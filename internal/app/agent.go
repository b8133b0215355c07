package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/rs/zerolog/log"

	"fleet-rollout/internal/adapters"
	"fleet-rollout/internal/core"
	"fleet-rollout/internal/policies"
	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

var (
	// ErrRestartService asks the supervisor to restart the agent so newly
	// installed packages take effect.
	ErrRestartService = errors.New("packages updated, service restart required")
	// ErrRestartDevice is returned after the device restart was triggered
	// for a new image.
	ErrRestartDevice = errors.New("image updated, device restart triggered")
)

const defaultRequestBuffer = 16

// AgentConfig is built once at startup and never changes while the agent
// runs.
type AgentConfig struct {
	DataDir        string
	Arch           types.Arch
	ImagePackage   string
	PartSize       uint64
	CleanInterval  time.Duration
	ErrorInterval  time.Duration
	DebugInterval  time.Duration
	DialTimeout    time.Duration
	RestartCommand []string
	RequestBuffer  int
}

// FetchRequest asks the agent to include a package in the next cycle.
// Now skips the remaining wait.
type FetchRequest struct {
	Package string
	Now     bool
}

// Agent keeps a device's packages and image up to date. At most one cycle
// runs at a time.
type Agent struct {
	cfg        AgentConfig
	Sources    ports.SourcesPort
	Dialer     ports.SourceDialerPort
	Packages   ports.PackageMetaPort
	Archive    ports.ArchivePort
	Bootloader ports.BootloaderPort
	Metrics    ports.MetricsPort
	Clock      func() time.Time

	requests chan FetchRequest
	changes  *shared.Broadcast[types.CycleReport]
	cycleMu  sync.Mutex
}

// NewAgent wires the file backed adapters under cfg.DataDir. Tests replace
// the exported ports afterwards.
func NewAgent(ctx context.Context, cfg AgentConfig) *Agent {
	assert.NotEmpty(ctx, cfg.DataDir, "data_dir must be set")
	assert.NotEmpty(ctx, string(cfg.Arch), "arch must be set")
	if cfg.ImagePackage == "" {
		cfg.ImagePackage = types.DefaultImagePackage
	}
	if cfg.PartSize == 0 {
		cfg.PartSize = core.DefaultPartSize
	}
	if cfg.RequestBuffer <= 0 {
		cfg.RequestBuffer = defaultRequestBuffer
	}
	return &Agent{
		cfg:      cfg,
		Sources:  adapters.NewSourcesFileAdapter(filepath.Join(cfg.DataDir, "sources.yaml")),
		Dialer:   adapters.NewTCPSourceDialer(cfg.DialTimeout),
		Packages: adapters.NewPackageMetaFileAdapter(filepath.Join(cfg.DataDir, "packages")),
		Archive:  adapters.NewTarZstdArchive(),
		Bootloader: adapters.NewBootloaderDirAdapter(adapters.BootloaderDirConfig{
			Root:           filepath.Join(cfg.DataDir, "boot"),
			RestartCommand: cfg.RestartCommand,
		}),
		Metrics:  adapters.NopMetrics{},
		Clock:    time.Now,
		requests: make(chan FetchRequest, cfg.RequestBuffer),
		changes:  shared.NewBroadcast[types.CycleReport](),
	}
}

// Request queues a fetch request. It blocks only while the queue is full.
func (a *Agent) Request(ctx context.Context, req FetchRequest) error {
	if req.Package != "" {
		if err := policies.ValidatePackageName(req.Package); err != nil {
			return err
		}
	}
	select {
	case a.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns the reports of finished cycles. A new subscriber
// first receives the latest report, if any.
func (a *Agent) Subscribe() (<-chan types.CycleReport, func()) {
	return a.changes.Subscribe()
}

// Run cycles until ctx is cancelled or an update needs a restart. A cycle
// in progress is not interrupted by new requests.
func (a *Agent) Run(ctx context.Context) error {
	defer a.changes.Close()
	var scheduler *core.Scheduler
	channel := ""
	pending := map[string]struct{}{}
	for {
		a.drainRequests(pending)
		report, err := a.RunCycle(ctx, setKeys(pending))
		// Requests ride along until a cycle completes.
		if err == nil {
			clear(pending)
		}
		failed := err != nil || len(report.FailedSources) > 0
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("update cycle failed")
		} else if restartErr := a.restartFor(ctx, report); restartErr != nil {
			if errors.Is(restartErr, ErrRestartService) || errors.Is(restartErr, ErrRestartDevice) {
				return restartErr
			}
			log.Ctx(ctx).Error().Err(restartErr).Msg("restart failed")
			failed = true
		}

		if sources, loadErr := a.Sources.Load(ctx); loadErr == nil && (scheduler == nil || sources.Channel != channel) {
			channel = sources.Channel
			scheduler = a.newScheduler(channel)
		} else if scheduler == nil {
			scheduler = a.newScheduler("")
		}
		wait := scheduler.Next(failed)
		log.Ctx(ctx).Info().Dur("wait", wait).Bool("failed", failed).Msg("next update cycle scheduled")
		if err := a.wait(ctx, wait, pending); err != nil {
			return err
		}
	}
}

func (a *Agent) newScheduler(channel string) *core.Scheduler {
	if policies.IsDebugChannel(channel) {
		log.Info().Dur("interval", a.cfg.DebugInterval).Msg("debug channel, polling on a fixed interval")
	}
	return core.NewScheduler(core.ScheduleConfig{
		Channel:       channel,
		CleanInterval: a.cfg.CleanInterval,
		ErrorInterval: a.cfg.ErrorInterval,
		DebugInterval: a.cfg.DebugInterval,
	})
}

// wait sleeps until the timer fires or a request asks for an immediate
// cycle. Requests received meanwhile are folded into pending.
func (a *Agent) wait(ctx context.Context, d time.Duration, pending map[string]struct{}) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case req := <-a.requests:
			if req.Package != "" {
				pending[req.Package] = struct{}{}
			}
			if req.Now {
				return nil
			}
		}
	}
}

func (a *Agent) drainRequests(pending map[string]struct{}) {
	for {
		select {
		case req := <-a.requests:
			if req.Package != "" {
				pending[req.Package] = struct{}{}
			}
		default:
			return
		}
	}
}

// restartFor carries out the restart a report asks for. An image update
// restarts the device, which supersedes restarting the service.
func (a *Agent) restartFor(ctx context.Context, report types.CycleReport) error {
	switch {
	case report.RestartDevice:
		if err := a.Bootloader.Restart(ctx); err != nil {
			return err
		}
		return ErrRestartDevice
	case report.RestartAgent:
		return ErrRestartService
	default:
		return nil
	}
}

func setKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	return out
}
