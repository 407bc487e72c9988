package event

import "errors"

// ErrorKind classifies the errors that can be surfaced to the UI as an
// Error PeerEvent, per spec §7's table. The kind is attached to the event
// so the UI can decide whether to offer a retry affordance without parsing
// the message string.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPathInvalid
	KindChannelFull
	KindPermissionDenied
	KindCorrupted
	KindTimeout
	KindTransport
	KindIO
)

func (k ErrorKind) String() string {
	switch k {
	case KindPathInvalid:
		return "path_invalid"
	case KindChannelFull:
		return "channel_full"
	case KindPermissionDenied:
		return "permission_denied"
	case KindCorrupted:
		return "corrupted"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per ErrorKind, so package callers can use
// errors.Is instead of comparing strings.
var (
	ErrPathInvalid      = errors.New("path invalid")
	ErrChannelFull      = errors.New("channel full")
	ErrPermissionDenied = errors.New("permission denied")
	ErrCorrupted        = errors.New("corrupted")
	ErrTimeout          = errors.New("timeout")
	ErrTransport        = errors.New("transport error")
	ErrIO               = errors.New("io error")
)

// KindOf maps a sentinel error (or a wrapped one) to its ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrPathInvalid):
		return KindPathInvalid
	case errors.Is(err, ErrChannelFull):
		return KindChannelFull
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrCorrupted):
		return KindCorrupted
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindUnknown
	}
}

// NewError builds an Error PeerEvent from an error, classifying it via
// KindOf and using err.Error() as the short description.
func NewError(err error) PeerEvent {
	return PeerEvent{Kind: Error, Message: err.Error(), ErrKind: KindOf(err)}
}
