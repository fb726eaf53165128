package peer

import "errors"

var (
	// ErrMalformedFrame indicates a frame body that does not parse.
	ErrMalformedFrame = errors.New("peer: malformed frame")

	// ErrFrameTooLarge indicates a frame length above MaxFrameSize.
	ErrFrameTooLarge = errors.New("peer: frame too large")

	// ErrHashMismatch indicates a peer returned data that does not hash to
	// the requested hash.
	ErrHashMismatch = errors.New("peer: response hash mismatch")

	// ErrNotFound indicates the peer answered with the explicit not-found marker.
	ErrNotFound = errors.New("peer: block not found")

	// ErrUnknownPeer indicates a request addressed a peer that is not connected.
	ErrUnknownPeer = errors.New("peer: unknown peer")

	// ErrClosed indicates the connection or transport has been closed.
	ErrClosed = errors.New("peer: closed")
)
