package configstore

import "errors"

var (
	// ErrInvalidConfig is returned when an administrative call supplies a
	// non-positive global parameter or quota field.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrNoQuota is returned by Resolve when neither a client override, an
	// action limit, nor a caller-supplied fallback quota exists.
	ErrNoQuota = errors.New("no quota")
)
