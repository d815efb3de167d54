package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrChannel classifies connection drops and failed handshakes.
	ErrChannel = errors.New("channel error")
	// ErrHandshakeUnauthorized marks a handshake refused for its credential.
	ErrHandshakeUnauthorized = errors.New("handshake unauthorized")
	// ErrNotOpen is returned by Send when no connection is open.
	ErrNotOpen = errors.New("channel not open")
	// ErrRateLimited is returned by Send when the outbound window is full.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidMessage is returned by Send for empty or oversized text.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ChannelError describes a failed dial, read or write.
type ChannelError struct {
	Op     string
	Status int // HTTP status of a failed handshake, 0 otherwise
	Err    error
}

func (e *ChannelError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("channel %s: status=%d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() []error { return []error{ErrChannel, e.Err} }
