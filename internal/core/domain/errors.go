package domain

import "errors"

var (
	ErrCaptureUnavailable = errors.New("capture unavailable")
	ErrPermissionDenied   = errors.New("capture permission denied")
	ErrDeviceUnavailable  = errors.New("capture device unavailable")
	ErrNegotiation        = errors.New("negotiation failed")
	ErrStaleMessage       = errors.New("stale signaling message")
	ErrTransport          = errors.New("signaling transport error")
	ErrInvalidTransition  = errors.New("invalid queue transition")
	ErrBanned             = errors.New("user is banned")
	ErrNoSession          = errors.New("no active session")

	ErrUserNotFound  = errors.New("user not found")
	ErrRoomNotFound  = errors.New("room not found")
	ErrNotInRoom     = errors.New("user is not in room")
	ErrAlreadyQueued = errors.New("user already queued")
	ErrNotPartner    = errors.New("user is not the current partner")
)
