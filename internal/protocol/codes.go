package protocol

import "errors"

// Application error codes carried in pusher:error frames. The 4000-4099 range
// tells the client not to reconnect, 4100-4199 to back off, 4200+ to reconnect
// immediately.
const (
	CodeOverQuota       = 4004
	CodeUnauthorized    = 4009
	CodeGenericError    = 4200
	CodePongTimeout     = 4201
	CodeMessageTooLarge = 4301
)

// Sentinel errors for protocol failure modes. Each maps to a code above.
var (
	ErrOverQuota        = errors.New("application is over its connection quota")
	ErrOriginNotAllowed = errors.New("origin not allowed")
	ErrUnauthorized     = errors.New("connection is unauthorized")
	ErrPongTimeout      = errors.New("pong reply not received in time")
	ErrMessageTooLarge  = errors.New("message exceeds maximum size")
	ErrShuttingDown     = errors.New("server is shutting down")
	ErrUnknownEvent     = errors.New("unknown control event")
)

// CodeFor maps a sentinel error to its wire code. Unrecognised errors map to
// the generic 4200.
func CodeFor(err error) int {
	switch {
	case errors.Is(err, ErrOverQuota):
		return CodeOverQuota
	case errors.Is(err, ErrOriginNotAllowed), errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrPongTimeout):
		return CodePongTimeout
	case errors.Is(err, ErrMessageTooLarge):
		return CodeMessageTooLarge
	default:
		return CodeGenericError
	}
}
