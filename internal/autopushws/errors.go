package autopushws

import (
	"errors"
	"fmt"
)

var (
	ErrHandshakeTimeout    = errors.New("autopushws: hello response timeout")
	ErrRegistrationTimeout = errors.New("autopushws: register response timeout")
	// ErrIdentityExpired means the relay rejected the UAID (409/410). The
	// session has been cleared; send hello again with an empty identity.
	ErrIdentityExpired = errors.New("autopushws: uaid expired")
	// ErrTransportClosed fails operations that were pending when the
	// socket went away.
	ErrTransportClosed = errors.New("autopushws: transport closed")
	ErrNotConnected    = errors.New("autopushws: not connected")
)

// StatusError is a non-200 hello or register response.
type StatusError struct {
	Op     string // "hello" or "register"
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("autopushws: %s failed: status %d", e.Op, e.Status)
}
