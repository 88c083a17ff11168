package broker

import "errors"

// Denials returned by Consume. All three refuse the desktop login; they are kept
// apart so callers can log and report the reason.
var (
	ErrNotFound        = errors.New("exchange code not found")
	ErrExpired         = errors.New("exchange code expired")
	ErrAlreadyConsumed = errors.New("exchange code already consumed")
)

// ErrEntropy is returned by Issue when the random source fails.
var ErrEntropy = errors.New("exchange code entropy unavailable")

// IsDenial reports whether err is one of the three Consume denials.
func IsDenial(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) || errors.Is(err, ErrAlreadyConsumed)
}

// Reason maps a denial to the short reason string used in responses and logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyConsumed):
		return "already_consumed"
	default:
		return "internal"
	}
}
