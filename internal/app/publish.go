package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"fleet-rollout/internal/adapters"
	"fleet-rollout/internal/core"
	"fleet-rollout/internal/policies"
	"fleet-rollout/internal/types"
)

// Publish uploads a package file, signs its hash with the channel key and
// registers the version. A directory is packed as tar.zst first.
func (s Service) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if err := validateTarget(req.Channel, req.Arch, req.Name); err != nil {
		return PublishResult{}, err
	}
	if err := core.ValidateVersion(req.Version); err != nil {
		return PublishResult{}, err
	}
	for name, requirement := range req.Requirements {
		if _, err := core.ParseRequirement(requirement); err != nil {
			return PublishResult{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("requirement for %s is invalid", name)).
				WithCause(err)
		}
	}
	if len(req.Server.SigningKey) == 0 {
		return PublishResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("signing key is required")
	}
	data, err := s.readContent(req)
	if err != nil {
		return PublishResult{}, err
	}
	if len(data)+len(types.Hash{}) > adapters.AuthenticatedBodyLimit {
		return PublishResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("package of %d bytes exceeds the upload limit", len(data)))
	}

	version := core.SignPackageVersion(req.Server.SigningKey, types.PackageVersion{
		Name:       req.Name,
		Version:    strings.TrimPrefix(strings.TrimSpace(req.Version), "v"),
		Hash:       core.ContentHash(data),
		Arch:       req.Arch,
		Entrypoint: req.Entrypoint,
	})

	conn, err := s.writerConn(ctx, req.Server, req.Channel)
	if err != nil {
		return PublishResult{}, err
	}
	defer conn.Close()
	if err := conn.SetFile(ctx, version.Hash, data); err != nil {
		return PublishResult{}, err
	}
	if err := conn.SetPackageInfo(ctx, types.SetPackageInfoReq{
		Channel:            req.Channel,
		Version:            version,
		Whitelist:          req.Whitelist,
		AutoWhitelistLimit: req.AutoWhitelistLimit,
		Requirements:       req.Requirements,
	}); err != nil {
		return PublishResult{}, err
	}
	log.Ctx(ctx).Info().
		Str("channel", req.Channel).
		Str("package", version.Name).
		Str("version", version.Version).
		Str("hash", version.Hash.String()).
		Int("size", len(data)).
		Msg("published")
	return PublishResult{Version: version, Size: len(data)}, nil
}

func (s Service) readContent(req PublishRequest) ([]byte, error) {
	path := strings.TrimSpace(req.Path)
	dir := strings.TrimSpace(req.Dir)
	switch {
	case path != "" && dir != "":
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("either a file or a directory may be published, not both")
	case dir != "":
		return s.Archive.PackDir(dir)
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read package file").
				WithCause(err)
		}
		return data, nil
	default:
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("package file or directory is required")
	}
}

// ChangeWhitelist applies one whitelist change to the version with the
// given hash.
func (s Service) ChangeWhitelist(ctx context.Context, req WhitelistRequest) error {
	if err := validateTarget(req.Channel, req.Arch, req.Name); err != nil {
		return err
	}
	if _, err := policies.ApplyWhitelistChange(types.PackageEntry{}, req.Change); err != nil {
		return err
	}
	conn, err := s.writerConn(ctx, req.Server, req.Channel)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.ChangeWhitelist(ctx, types.ChangeWhitelistReq{
		Channel: req.Channel,
		Arch:    req.Arch,
		Name:    req.Name,
		Hash:    req.Hash,
		Change:  req.Change,
	})
	return err
}

// NewReaderKey asks the server for a fresh reader key.
func (s Service) NewReaderKey(ctx context.Context, req ReaderKeyRequest) (types.AuthKey, error) {
	conn, err := s.writerConn(ctx, req.Server, req.Channel)
	if err != nil {
		return types.AuthKey{}, err
	}
	defer conn.Close()
	return conn.NewAuthKeyReader(ctx)
}
