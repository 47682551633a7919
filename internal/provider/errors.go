package provider

import "errors"

// Provider failures fall into a small taxonomy so callers can choose
// between retry, host advance, fallback, and normal termination.
var (
	// ErrSourceFailed is a hard transport or status failure while
	// paginating candles. It never advances the fill cursor; the engine
	// switches to the fallback source instead of retrying in place.
	ErrSourceFailed = errors.New("source failed")

	// ErrRestricted means the host answered definitively that it will
	// not serve this caller (e.g. region block). Not retried on that
	// host; the resolver moves to the next configured host.
	ErrRestricted = errors.New("host restricted")

	// ErrResolutionUnavailable means every configured exchange host
	// failed. Callers must treat this as "resolution unavailable", not
	// as an empty pair set.
	ErrResolutionUnavailable = errors.New("exchange resolution unavailable")
)
