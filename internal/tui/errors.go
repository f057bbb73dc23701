package tui

import (
	"errors"
	"fmt"

	"github.com/pders01/notifeed/internal/feed"
)

// wrapErr formats an error with a contextual prefix.
func wrapErr(context string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// userMessage returns the text shown in the status bar for err. Controller
// failures already carry a readable message.
func userMessage(err error) string {
	var failure *feed.Failure
	if errors.As(err, &failure) {
		return failure.Message
	}
	return err.Error()
}
