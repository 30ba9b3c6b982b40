package channel

import (
	"fmt"
	"strings"

	"github.com/revurb-io/revurb/internal/app"
	"github.com/revurb-io/revurb/internal/protocol"
)

// New builds the channel variant a name demands. Prefixes are matched most
// specific first so "private-cache-x" is a private cache channel, not a
// private one.
func New(a *app.Application, name string) (Channel, error) {
	if !protocol.ValidChannelName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannelName, name)
	}

	switch {
	case strings.HasPrefix(name, "private-encrypted-"):
		return nil, fmt.Errorf("%w: %q", ErrEncryptedUnsupported, name)
	case strings.HasPrefix(name, "private-cache-"):
		return NewPrivateCache(a, name), nil
	case strings.HasPrefix(name, "presence-cache-"):
		return NewPresenceCache(a, name), nil
	case strings.HasPrefix(name, "cache-"):
		return NewCache(a, name), nil
	case strings.HasPrefix(name, "private-"):
		return NewPrivate(a, name), nil
	case strings.HasPrefix(name, "presence-"):
		return NewPresence(a, name), nil
	default:
		return NewPublic(a, name), nil
	}
}

// RequiresAuth reports whether a channel name demands an auth token at
// subscribe time.
func RequiresAuth(name string) bool {
	return strings.HasPrefix(name, "private-") || strings.HasPrefix(name, "presence-")
}

// IsPresenceName reports whether the name denotes a presence variant.
func IsPresenceName(name string) bool {
	return strings.HasPrefix(name, "presence-")
}

// IsCacheName reports whether the name denotes a cache variant.
func IsCacheName(name string) bool {
	return strings.HasPrefix(name, "cache-") ||
		strings.HasPrefix(name, "private-cache-") ||
		strings.HasPrefix(name, "presence-cache-")
}

// AcceptsClientEvents reports whether subscribers may originate client-*
// events on the named channel (private and presence variants only).
func AcceptsClientEvents(name string) bool {
	return RequiresAuth(name)
}
