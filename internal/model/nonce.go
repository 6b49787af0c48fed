package model

import "time"

// NonceRecord is the cached outcome of the first request seen with a nonce.
type NonceRecord struct {
	Status     int
	Body       []byte
	CreatedAt  time.Time
	Processing bool // first request still in flight
}
