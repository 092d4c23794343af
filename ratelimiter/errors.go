package ratelimiter

import (
	"errors"

	"github.com/ajiwo/quotaengine/configstore"
)

// ErrInvalidInput is returned when a tenant, client, or action identifier
// is empty, or a caller-supplied fallback quota is non-positive.
var ErrInvalidInput = errors.New("invalid input")

// ErrNoQuota is re-exported so callers can errors.Is against it without
// importing configstore directly.
var ErrNoQuota = configstore.ErrNoQuota

// ErrInvalidConfig is re-exported from configstore for the same reason.
var ErrInvalidConfig = configstore.ErrInvalidConfig
