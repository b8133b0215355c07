package types

import "github.com/google/uuid"

// Session is the per-connection authentication state held by the server.
type Session struct {
	ID               uuid.UUID
	Remote           string
	BodyLimit        uint32
	Reader           bool
	WriterChannel    string
	Challenge        []byte
	ChallengeChannel string
}

func (s *Session) CanRead() bool {
	return s.Reader || s.WriterChannel != ""
}

func (s *Session) CanWrite(channel string) bool {
	return s.WriterChannel != "" && s.WriterChannel == channel
}

func (s *Session) IsWriter() bool {
	return s.WriterChannel != ""
}
