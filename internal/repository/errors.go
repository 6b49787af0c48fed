package repository

import "errors"

var (
	ErrPlatformNotFound    = errors.New("platform not found")
	ErrPlatformExists      = errors.New("platform already exists")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNonceNotFound       = errors.New("nonce not found")
)
