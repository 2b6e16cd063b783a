package session

import "errors"

var (
	ErrInvalidSeed     = errors.New("session seed requires ownerId and playlist")
	ErrOwnerImmutable  = errors.New("session owner can not change")
	ErrMemberElsewhere = errors.New("user is already a member of another session")
	ErrEmptySessionID  = errors.New("session id is required")
)
