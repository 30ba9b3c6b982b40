package protocol

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

const (
	// ClientEventPrefix marks events originated by subscribers rather than
	// the server or the control API.
	ClientEventPrefix = "client-"

	maxNameLength = 200
)

// nameChars is the character set Pusher permits for channel and event names.
var nameChars = regexp.MustCompile(`^[a-zA-Z0-9_\-=@,.;]+$`)

// NewSocketID returns a fresh socket identifier in the "<n>.<n>" form the
// Pusher protocol uses.
func NewSocketID() string {
	return fmt.Sprintf("%d.%d", rand.Uint32(), rand.Uint32())
}

// ValidChannelName reports whether name is a well-formed channel name.
func ValidChannelName(name string) bool {
	return name != "" && len(name) <= maxNameLength && nameChars.MatchString(name)
}

// ValidClientEvent reports whether name is a well-formed client event name,
// including the mandatory client- prefix.
func ValidClientEvent(name string) bool {
	return strings.HasPrefix(name, ClientEventPrefix) &&
		len(name) <= maxNameLength &&
		nameChars.MatchString(name)
}

// IsClientEvent reports whether the event name carries the client- prefix.
func IsClientEvent(name string) bool {
	return strings.HasPrefix(name, ClientEventPrefix)
}

// IsControlEvent reports whether the event name belongs to the pusher:*
// control namespace.
func IsControlEvent(name string) bool {
	return strings.HasPrefix(name, "pusher:")
}
