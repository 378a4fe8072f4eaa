package flight

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrInvalidFlight      = errors.New("invalid flight")
	ErrDuplicateTimestamp = errors.New("duplicate timestamp")
)

// InvalidFlightError reports a flight that failed its validity check.
// Notes carries the diagnostics collected while parsing and analysing it.
type InvalidFlightError struct {
	Key   Key
	Notes []string
}

func (e *InvalidFlightError) Error() string {
	if len(e.Notes) == 0 {
		return fmt.Sprintf("invalid flight %s", e.Key)
	}
	return fmt.Sprintf("invalid flight %s: %s", e.Key, strings.Join(e.Notes, "; "))
}

func (e *InvalidFlightError) Is(target error) bool {
	return target == ErrInvalidFlight
}

// DuplicateTimestampError reports two fixes (or rows) of one flight sharing
// a timestamp.
type DuplicateTimestampError struct {
	Key  Key
	Time time.Time
}

func (e *DuplicateTimestampError) Error() string {
	return fmt.Sprintf("flight %s: duplicate timestamp %s", e.Key, e.Time.Format(time.RFC3339Nano))
}

func (e *DuplicateTimestampError) Is(target error) bool {
	return target == ErrDuplicateTimestamp
}

// ExternalIOError wraps a failure of the file or network layer feeding the
// parser.
type ExternalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *ExternalIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ExternalIOError) Unwrap() error {
	return e.Err
}
