package pushservice

import (
	"errors"
	"fmt"

	"github.com/gwillem/nicopush-go/internal/originapi"
)

// ErrRemoteRegistrationFailed is wrapped by every *RemoteRegistrationError.
var ErrRemoteRegistrationFailed = errors.New("pushservice: origin registration failed")

// RemoteRegistrationError reports that the origin did not accept the
// endpoint. The relay subscription itself is intact and persisted with
// Registered=false.
type RemoteRegistrationError struct {
	Status  int // HTTP status, 0 if the request did not complete
	Message string
	Err     error
}

func newRemoteRegistrationError(err error) *RemoteRegistrationError {
	e := &RemoteRegistrationError{Message: err.Error(), Err: err}
	var se *originapi.StatusError
	if errors.As(err, &se) {
		e.Status = se.Status
		e.Message = se.Body
	}
	return e
}

func (e *RemoteRegistrationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("pushservice: origin registration failed: status %d: %s", e.Status, e.Message)
	}
	return "pushservice: origin registration failed: " + e.Message
}

func (e *RemoteRegistrationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRemoteRegistrationFailed}
	}
	return []error{ErrRemoteRegistrationFailed, e.Err}
}
