package app

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"fleet-rollout/internal/adapters"
	"fleet-rollout/internal/core"
	"fleet-rollout/internal/policies"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

// Handle dispatches one request. Every kind has exactly one handler and
// its body type is fixed by the kind.
func (s *Server) Handle(ctx context.Context, session *types.Session, kind types.MessageKind, body []byte) ([]byte, error) {
	switch kind {
	case types.MessageKindPackageInfo:
		return s.packageInfo(ctx, session, body)
	case types.MessageKindSetPackageInfo:
		return s.setPackageInfo(ctx, session, body)
	case types.MessageKindGetFile:
		return s.getFile(ctx, session, body)
	case types.MessageKindGetFilePart:
		return s.getFilePart(ctx, session, body)
	case types.MessageKindSetFile:
		return s.setFile(ctx, session, body)
	case types.MessageKindChangeWhitelist:
		return s.changeWhitelist(ctx, session, body)
	case types.MessageKindNewAuthKeyReader:
		return s.newAuthKeyReader(ctx, session)
	case types.MessageKindAuthenticateReader:
		return s.authenticateReader(ctx, session, body)
	case types.MessageKindAuthenticateWriter1:
		return s.authenticateWriterChallenge(ctx, session, body)
	case types.MessageKindAuthenticateWriter2:
		return s.authenticateWriterResponse(ctx, session, body)
	case types.MessageKindHandshake:
		return nil, shared.KindError(types.ErrorRequest, "handshake is handled by the transport")
	default:
		return nil, shared.KindError(types.ErrorRequest, fmt.Sprintf("unknown message kind %d", uint16(kind)))
	}
}

func (s *Server) packageInfo(ctx context.Context, session *types.Session, body []byte) ([]byte, error) {
	if err := s.requireRead(session); err != nil {
		return nil, err
	}
	var req types.PackageInfoReq
	if err := adapters.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	if err := validateTarget(req.Channel, req.Arch, req.Name); err != nil {
		return nil, err
	}
	entry, err := s.Registry.GetPackage(ctx, types.PackageQuery{
		Channel:            req.Channel,
		Arch:               req.Arch,
		Name:               req.Name,
		DeviceID:           req.DeviceID,
		ImageVersion:       req.ImageVersion,
		Installed:          req.Installed,
		IgnoreRequirements: req.IgnoreRequirements,
		ImagePackage:       s.cfg.ImagePackage,
	})
	if err != nil {
		return nil, err
	}
	var resp types.PackageInfoResp
	if entry != nil {
		version := entry.Version
		resp.Version = &version
	}
	log.Ctx(ctx).Debug().
		Str("channel", req.Channel).
		Str("arch", string(req.Arch)).
		Str("package", req.Name).
		Bool("found", entry != nil).
		Msg("package info")
	return adapters.EncodeBody(resp)
}

// setPackageInfo publishes a version. The signature must verify against
// the channel's writer key and the content must already be uploaded.
func (s *Server) setPackageInfo(ctx context.Context, session *types.Session, body []byte) ([]byte, error) {
	if err := s.requireWriter(session, ""); err != nil {
		return nil, err
	}
	var req types.SetPackageInfoReq
	if err := adapters.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	if err := s.requireWriter(session, req.Channel); err != nil {
		return nil, err
	}
	if err := validateTarget(req.Channel, req.Version.Arch, req.Version.Name); err != nil {
		return nil, err
	}
	if !core.VerifyPackageVersion(s.cfg.WriterKeys[req.Channel], req.Version) {
		return nil, shared.KindError(types.ErrorSignatureIncorrect,
			fmt.Sprintf("%s %s is not signed by the %s writer key", req.Version.Name, req.Version.Version, req.Channel))
	}
	for name, requirement := range req.Requirements {
		if _, err := core.ParseRequirement(requirement); err != nil {
			return nil, shared.KindError(types.ErrorRequest, fmt.Sprintf("requirement for %s: %v", name, err))
		}
	}
	file, err := s.Files.Get(ctx, req.Version.Hash)
	if err != nil {
		return nil, err
	}
	_ = file.Close()

	entry := types.PackageEntry{
		Version:            req.Version,
		Whitelist:          req.Whitelist,
		AutoWhitelistLimit: req.AutoWhitelistLimit,
		Requirements:       req.Requirements,
	}
	if err := s.Registry.PushPackage(ctx, req.Channel, entry); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().
		Str("channel", req.Channel).
		Str("package", req.Version.Name).
		Str("version", req.Version.Version).
		Str("arch", string(req.Version.Arch)).
		Str("hash", req.Version.Hash.String()).
		Msg("package published")
	return adapters.EncodeBody(types.Empty{})
}

// getFile returns the whole blob, or an empty body when it is unknown.
// Files larger than the session's limit must be fetched in parts.
func (s *Server) getFile(ctx context.Context, session *types.Session, body []byte) ([]byte, error) {
	if err := s.requireRead(session); err != nil {
		return nil, err
	}
	var req types.GetFileReq
	if err := adapters.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	file, err := s.Files.Get(ctx, req.Hash)
	if err != nil {
		if shared.IsKind(err, types.ErrorFileNotFound) {
			return []byte{}, nil
		}
		return nil, err
	}
	defer file.Close()
	if file.Size() > int64(session.BodyLimit) {
		return nil, shared.KindError(types.ErrorRequest,
			fmt.Sprintf("file of %d bytes exceeds the session limit of %d, fetch it in parts", file.Size(), session.BodyLimit))
	}
	data := make([]byte, file.Size())
	if _, err := io.ReadFull(file, data); err != nil {
		return nil, shared.KindErrorWithCause(types.ErrorInternal, "failed to read file", err)
	}
	return data, nil
}

func (s *Server) getFilePart(ctx context.Context, session *types.Session, body []byte) ([]byte, error) {
	if err := s.requireRead(session); err != nil {
		return nil, err
	}
	var req types.GetFilePartReq
	if err := adapters.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	if limit := uint64(session.BodyLimit) - core.ChunkPrefixSize; req.Len > limit {
		req.Len = limit
	}
	return s.Files.ReadPart(ctx, req.Hash, req.Start, req.Len)
}

// setFile stores raw bytes. The body is the 32-byte hash followed by the
// content; the hash is trusted because publishing signs it.
func (s *Server) setFile(ctx context.Context, session *types.Session, body []byte) ([]byte, error) {
	if err := s.requireWriter(session, ""); err != nil {
		return nil, err
	}
	var hash types.Hash
	if len(body) < len(hash) {
		return nil, shared.KindError(types.ErrorRequest, "set-file body is shorter than a hash")
	}
	copy(hash[:], body)
	if err := s.Files.Set(ctx, hash, body[len(hash):]); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("hash", hash.String()).Int("size", len(body)-len(hash)).Msg("file stored")
	return adapters.EncodeBody(types.Empty{})
}

func (s *Server) changeWhitelist(ctx context.Context, session *types.Session, body []byte) ([]byte, error) {
	if err := s.requireWriter(session, ""); err != nil {
		return nil, err
	}
	var req types.ChangeWhitelistReq
	if err := adapters.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	if err := s.requireWriter(session, req.Channel); err != nil {
		return nil, err
	}
	if err := validateTarget(req.Channel, req.Arch, req.Name); err != nil {
		return nil, err
	}
	changed, err := s.Registry.ChangeWhitelist(ctx, req.Channel, req.Arch, req.Name, req.Hash, req.Change)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, shared.KindError(types.ErrorVersionNotFound,
			fmt.Sprintf("%s/%s/%s has no version %s", req.Channel, req.Arch, req.Name, req.Hash))
	}
	log.Ctx(ctx).Info().
		Str("channel", req.Channel).
		Str("package", req.Name).
		Str("hash", req.Hash.String()).
		Str("change", string(req.Change.Kind)).
		Msg("whitelist changed")
	return adapters.EncodeBody(types.ChangeWhitelistResp{Changed: true})
}

func validateTarget(channel string, arch types.Arch, name string) error {
	if err := policies.ValidateChannel(channel); err != nil {
		return err
	}
	if err := policies.ValidateArch(arch); err != nil {
		return err
	}
	return policies.ValidatePackageName(name)
}
