package app

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"fleet-rollout/internal/adapters"
	"fleet-rollout/internal/core"
	"fleet-rollout/internal/policies"
	"fleet-rollout/internal/shared"
	"fleet-rollout/internal/types"
)

const challengeSize = 32

func (s *Server) OpenSession(remote string) *types.Session {
	return &types.Session{
		ID:        uuid.New(),
		Remote:    remote,
		BodyLimit: adapters.UnauthenticatedBodyLimit,
	}
}

// CloseSession drops any pending challenge with the session.
func (s *Server) CloseSession(session *types.Session) {
	session.Challenge = nil
	session.ChallengeChannel = ""
}

// requireRead lets anonymous sessions read unless the server is
// configured to serve authenticated readers only.
func (s *Server) requireRead(session *types.Session) error {
	if s.cfg.RequireReader && !session.CanRead() {
		return shared.KindError(types.ErrorNotAuthenticated, "reader key required")
	}
	return nil
}

// requireWriter checks that the session authenticated as writer. An empty
// channel accepts a writer of any channel.
func (s *Server) requireWriter(session *types.Session, channel string) error {
	if !session.IsWriter() {
		return shared.KindError(types.ErrorNotAuthenticated, "writer authentication required")
	}
	if channel != "" && !session.CanWrite(channel) {
		return shared.KindError(types.ErrorNotAuthenticated,
			fmt.Sprintf("session may write to %s, not %s", session.WriterChannel, channel))
	}
	return nil
}

func (s *Server) newAuthKeyReader(ctx context.Context, session *types.Session) ([]byte, error) {
	if err := s.requireWriter(session, ""); err != nil {
		return nil, err
	}
	key, err := s.ReaderKeys.NewKey(ctx)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("writer_channel", session.WriterChannel).Msg("reader key issued")
	return adapters.EncodeBody(types.NewAuthKeyReaderResp{Key: key})
}

func (s *Server) authenticateReader(ctx context.Context, session *types.Session, body []byte) ([]byte, error) {
	var req types.AuthenticateReaderReq
	if err := adapters.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	ok, err := s.ReaderKeys.Contains(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shared.KindError(types.ErrorAuthKeyUnknown, "")
	}
	session.Reader = true
	session.BodyLimit = adapters.AuthenticatedBodyLimit
	log.Ctx(ctx).Debug().Msg("session authenticated as reader")
	return adapters.EncodeBody(types.Empty{})
}

// authenticateWriterChallenge issues a fresh challenge whether or not the
// channel has a writer key, so the answer does not reveal configured
// channels.
func (s *Server) authenticateWriterChallenge(ctx context.Context, session *types.Session, body []byte) ([]byte, error) {
	var req types.AuthenticateWriter1Req
	if err := adapters.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	if err := policies.ValidateChannel(req.Channel); err != nil {
		return nil, err
	}
	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return nil, shared.KindErrorWithCause(types.ErrorInternal, "failed to create challenge", err)
	}
	session.Challenge = challenge
	session.ChallengeChannel = req.Channel
	log.Ctx(ctx).Debug().Str("channel", req.Channel).Msg("writer challenge issued")
	return adapters.EncodeBody(types.AuthenticateWriter1Resp{Challenge: challenge})
}

// authenticateWriterResponse consumes the pending challenge. A failed
// attempt needs a new challenge.
func (s *Server) authenticateWriterResponse(ctx context.Context, session *types.Session, body []byte) ([]byte, error) {
	var req types.AuthenticateWriter2Req
	if err := adapters.DecodeBody(body, &req); err != nil {
		return nil, err
	}
	challenge, channel := session.Challenge, session.ChallengeChannel
	session.Challenge, session.ChallengeChannel = nil, ""
	if challenge == nil {
		return nil, shared.KindError(types.ErrorNotAuthenticated, "no pending challenge")
	}
	key, ok := s.cfg.WriterKeys[channel]
	if !ok || !core.VerifySignature(key, challenge, req.Signature) {
		log.Ctx(ctx).Warn().Str("channel", channel).Msg("writer signature rejected")
		return nil, shared.KindError(types.ErrorSignatureIncorrect, "")
	}
	session.WriterChannel = channel
	session.BodyLimit = adapters.AuthenticatedBodyLimit
	log.Ctx(ctx).Info().Str("channel", channel).Msg("session authenticated as writer")
	return adapters.EncodeBody(types.Empty{})
}
