package shared

import (
	"errors"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"fleet-rollout/internal/types"
)

var kindCodes = map[types.ErrorKind]errbuilder.ErrCode{
	types.ErrorAuthKeyUnknown:     errbuilder.CodePermissionDenied,
	types.ErrorNotAuthenticated:   errbuilder.CodePermissionDenied,
	types.ErrorSignatureIncorrect: errbuilder.CodePermissionDenied,
	types.ErrorVersionNotFound:    errbuilder.CodeNotFound,
	types.ErrorFileNotFound:       errbuilder.CodeNotFound,
	types.ErrorStartUnreachable:   errbuilder.CodeFailedPrecondition,
	types.ErrorRequest:            errbuilder.CodeInvalidArgument,
	types.ErrorInternal:           errbuilder.CodeInternal,
}

var kindMessages = map[types.ErrorKind]string{
	types.ErrorAuthKeyUnknown:     "auth key unknown",
	types.ErrorNotAuthenticated:   "not authenticated",
	types.ErrorSignatureIncorrect: "signature incorrect",
	types.ErrorVersionNotFound:    "version not found",
	types.ErrorFileNotFound:       "file not found",
	types.ErrorStartUnreachable:   "start unreachable",
	types.ErrorRequest:            "bad request",
	types.ErrorInternal:           "internal error",
}

// KindError builds a classified error. The description is appended to the
// kind's fixed message.
func KindError(kind types.ErrorKind, description string) error {
	code, ok := kindCodes[kind]
	if !ok {
		kind = types.ErrorInternal
		code = errbuilder.CodeInternal
	}
	msg := kindMessages[kind]
	if description = strings.TrimSpace(description); description != "" {
		msg += ": " + description
	}
	return errbuilder.New().WithCode(code).WithMsg(msg)
}

// KindErrorWithCause is KindError with an underlying cause attached.
func KindErrorWithCause(kind types.ErrorKind, description string, cause error) error {
	built := KindError(kind, description)
	var builder *errbuilder.ErrBuilder
	if errors.As(built, &builder) {
		return builder.WithCause(cause)
	}
	return built
}

// KindOf classifies err back into the wire taxonomy. Unclassified errors
// are internal.
func KindOf(err error) types.ErrorKind {
	if err == nil {
		return ""
	}
	var builder *errbuilder.ErrBuilder
	if !errors.As(err, &builder) {
		return types.ErrorInternal
	}
	code := errbuilder.CodeOf(builder)
	for kind, message := range kindMessages {
		if kindCodes[kind] == code && strings.HasPrefix(builder.Msg, message) {
			return kind
		}
	}
	switch code {
	case errbuilder.CodeInvalidArgument, errbuilder.CodeAlreadyExists:
		return types.ErrorRequest
	case errbuilder.CodePermissionDenied:
		return types.ErrorNotAuthenticated
	case errbuilder.CodeNotFound:
		return types.ErrorFileNotFound
	default:
		return types.ErrorInternal
	}
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind types.ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// WireErrorOf converts err into the body sent back with the error flag.
func WireErrorOf(err error) types.WireError {
	kind := KindOf(err)
	return types.WireError{Kind: kind, Description: describe(err, kind)}
}

// ErrorFromWire rebuilds a classified error from a received error body.
func ErrorFromWire(wire types.WireError) error {
	if _, ok := kindCodes[wire.Kind]; !ok {
		return KindError(types.ErrorInternal, "unknown remote error "+string(wire.Kind)+": "+wire.Description)
	}
	return KindError(wire.Kind, wire.Description)
}

func describe(err error, kind types.ErrorKind) string {
	message := err.Error()
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && builder.Msg != "" {
		message = builder.Msg
	}
	prefix := kindMessages[kind]
	message = strings.TrimPrefix(message, prefix)
	message = strings.TrimPrefix(message, ": ")
	return message
}

// TransportError marks a failure of the connection itself rather than a
// classified answer from the peer.
type TransportError struct {
	Source string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Source == "" {
		return "transport: " + e.Err.Error()
	}
	return "transport " + e.Source + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

func IsTransport(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}
