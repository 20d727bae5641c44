package domain

import "errors"

// ErrInvariant marks consistency failures that should be impossible. Errors
// wrapping it abort the operation and are logged at error level.
var ErrInvariant = errors.New("invariant violation")

// IsFatal reports whether err is a consistency failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariant)
}
