package domain

import "errors"

var (
	ErrMarketNotFound  = errors.New("market not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrMarketNotOpen   = errors.New("market not open")
	ErrInvalidStake    = errors.New("invalid stake")
	ErrAlreadyResolved = errors.New("market already resolved")
	ErrAlreadyExists   = errors.New("already exists")
	ErrLockHeld        = errors.New("lock already held")
	ErrNoPrice         = errors.New("price unavailable")
	ErrBlobNotFound    = errors.New("blob not found")
)
