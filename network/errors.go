package network

import "errors"

var (
	// ErrConnectionFailed indicates the origin could not be reached or
	// answered with an unexpected status.
	ErrConnectionFailed = errors.New("network: connection failed")

	// ErrAuthFailed indicates the access token was rejected.
	ErrAuthFailed = errors.New("network: authentication failed")

	// ErrNotFound indicates the origin does not have the block.
	ErrNotFound = errors.New("network: block not found")

	// ErrInvalidResponse indicates a malformed or oversized response body.
	ErrInvalidResponse = errors.New("network: invalid response")

	// ErrHashMismatch indicates the origin returned data that does not hash
	// to the requested hash.
	ErrHashMismatch = errors.New("network: response hash mismatch")

	// ErrNoServerConfigured indicates no origin URL is configured.
	ErrNoServerConfigured = errors.New("network: no origin server configured")
)
