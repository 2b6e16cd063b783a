package router

import "syncplayer/pkg/types"

var (
	ErrMalformedFrame    error = types.Validationf("malformed frame")
	ErrRateLimitExceeded error = types.Capacityf("too many events, slow down")
	ErrIdentityMismatch  error = types.Forbiddenf("userId does not match the authenticated user")
)
