package sitepacer

import "errors"

var (
	// ErrConfiguration is returned for invalid construction parameters and
	// for observations tagged with a category outside a closed category set.
	ErrConfiguration = errors.New("sitepacer: configuration error")

	// ErrInvalidResponse is returned when a response cannot be converted to
	// a finite, non-negative latency.
	ErrInvalidResponse = errors.New("sitepacer: invalid response")
)
