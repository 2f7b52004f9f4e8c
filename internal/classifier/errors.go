package classifier

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks provider errors that will not resolve by retrying the
// next record (billing, quota, credentials). A run stops when it sees one.
var ErrFatalAPI = errors.New("fatal LLM API error")

// ErrUndecided is returned when the model answer is neither keep nor drop.
var ErrUndecided = errors.New("classifier answer is not keep or drop")

var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"invalid x-api-key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal provider errors with ErrFatalAPI and returns
// everything else untouched.
func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}
