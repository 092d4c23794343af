package windowregistry

import "errors"

// ErrInvalidQuota is returned when a quota's window duration is not
// strictly positive or its MaxRequests is negative. A zero MaxRequests is
// a valid, always-denying quota and does not trigger this error.
var ErrInvalidQuota = errors.New("invalid quota")
