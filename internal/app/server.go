package app

import (
	"context"
	"crypto/ed25519"
	"path/filepath"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/rs/zerolog/log"

	"fleet-rollout/internal/adapters"
	"fleet-rollout/internal/ports"
	"fleet-rollout/internal/types"
)

// ServerConfig is built once at startup. WriterKeys maps a channel to the
// public key whose holder may publish to it.
type ServerConfig struct {
	DataDir       string
	WriterKeys    map[string]ed25519.PublicKey
	RequireReader bool
	ImagePackage  string
}

// Server answers rollout requests. It owns the registry, the file store
// and the reader keys, and gates every mutation on the session's
// authentication.
type Server struct {
	cfg        ServerConfig
	Registry   ports.RegistryPort
	Files      ports.FileStorePort
	ReaderKeys ports.ReaderKeyPort
	Metrics    ports.MetricsPort
}

func NewServer(cfg ServerConfig, registry ports.RegistryPort, files ports.FileStorePort, readerKeys ports.ReaderKeyPort, metrics ports.MetricsPort) *Server {
	if cfg.ImagePackage == "" {
		cfg.ImagePackage = types.DefaultImagePackage
	}
	if metrics == nil {
		metrics = adapters.NopMetrics{}
	}
	return &Server{cfg: cfg, Registry: registry, Files: files, ReaderKeys: readerKeys, Metrics: metrics}
}

// OpenServer loads the persisted registry, reader keys and blob directory
// from cfg.DataDir.
func OpenServer(ctx context.Context, cfg ServerConfig, metrics ports.MetricsPort) (*Server, error) {
	assert.NotEmpty(ctx, cfg.DataDir, "data_dir must be set")
	if metrics == nil {
		metrics = adapters.NopMetrics{}
	}
	registry, err := adapters.OpenRegistryFile(filepath.Join(cfg.DataDir, "registry.yaml"))
	if err != nil {
		return nil, err
	}
	registry.Metrics = metrics
	readerKeys, err := adapters.OpenReaderKeysFile(filepath.Join(cfg.DataDir, "reader_keys.yaml"))
	if err != nil {
		return nil, err
	}
	files, err := adapters.NewFileStoreDirAdapter(filepath.Join(cfg.DataDir, "files"))
	if err != nil {
		return nil, err
	}
	channels := make([]string, 0, len(cfg.WriterKeys))
	for channel := range cfg.WriterKeys {
		channels = append(channels, channel)
	}
	log.Ctx(ctx).Info().
		Str("data_dir", cfg.DataDir).
		Strs("writer_channels", channels).
		Bool("require_reader", cfg.RequireReader).
		Msg("registry opened")
	return NewServer(cfg, registry, files, readerKeys, metrics), nil
}

var _ ports.MessageHandler = (*Server)(nil)
