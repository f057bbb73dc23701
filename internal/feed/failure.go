package feed

import (
	"errors"
	"fmt"

	"github.com/pders01/notifeed/internal/api"
	"github.com/pders01/notifeed/internal/session"
)

// Failure is the error every Controller operation returns. Message is
// meant to be shown to the user as is.
type Failure struct {
	Op      string
	Message string
	Err     error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(op, action string, err error) *Failure {
	return &Failure{
		Op:      op,
		Message: fmt.Sprintf("failed to %s: %s", action, describe(err)),
		Err:     err,
	}
}

func describe(err error) string {
	if errors.Is(err, session.ErrSessionExpired) {
		return session.ErrSessionExpired.Error()
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Kind == api.KindNetwork:
			return "network error"
		case apiErr.Message != "":
			return apiErr.Message
		}
	}
	return err.Error()
}
