package types

// ErrorKind classifies failures that cross the wire.
type ErrorKind string

const (
	ErrorAuthKeyUnknown     ErrorKind = "auth_key_unknown"
	ErrorNotAuthenticated   ErrorKind = "not_authenticated"
	ErrorSignatureIncorrect ErrorKind = "signature_incorrect"
	ErrorVersionNotFound    ErrorKind = "version_not_found"
	ErrorStartUnreachable   ErrorKind = "start_unreachable"
	ErrorFileNotFound       ErrorKind = "file_not_found"
	ErrorInternal           ErrorKind = "internal"
	ErrorRequest            ErrorKind = "request"
)

type WireError struct {
	Kind        ErrorKind `json:"kind"`
	Description string    `json:"description,omitempty"`
}
