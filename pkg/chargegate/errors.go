package chargegate

import "errors"

var (
	// ErrEmptyKey is returned when a bucket has an empty key
	ErrEmptyKey = errors.New("bucket key cannot be empty")

	// ErrInvalidRate is returned when a bucket's refill rate is negative or not a number
	ErrInvalidRate = errors.New("bucket rate must be a non-negative number")

	// ErrInvalidSize is returned when a bucket's capacity is not a positive number
	ErrInvalidSize = errors.New("bucket size must be a positive number")

	// ErrInvalidAmount is returned when a charge amount or limit is not a finite number
	ErrInvalidAmount = errors.New("charge amount and limit must be finite numbers")

	// ErrEmptyBatch is returned when BatchCharge is called with no requests
	ErrEmptyBatch = errors.New("batch must contain at least one request")

	// ErrBadReply is returned when the charge script returns a reply the driver
	// cannot decode
	ErrBadReply = errors.New("unexpected charge script reply")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")
)
