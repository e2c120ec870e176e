package ports

import (
	"context"

	"fluxx/internal/core/domain"
)

// SignalTransport sends named messages over the persistent signaling connection.
type SignalTransport interface {
	Send(ctx context.Context, msg domain.Message) error
}

// SignalHandler receives inbound messages and connectivity changes from a transport.
type SignalHandler interface {
	HandleSignal(msg domain.Message)
	HandleTransportStatus(connected bool)
}

// CredentialStore holds the session credentials the transport authenticates with.
type CredentialStore interface {
	Token() string
	Clear()
}

// PeerNotifier delivers server-originated messages to a connected user.
type PeerNotifier interface {
	Notify(ctx context.Context, user domain.UserID, msg domain.Message) error
}
