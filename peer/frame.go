// Package peer implements the block request protocol spoken between peers
// and a websocket transport that carries it.
//
// Wire format: every frame is a 4-byte big-endian body length followed by
// the body. Bodies are one of
//
//	'Q' || id(4) || hash (64 lowercase hex bytes)   request
//	'B' || id(4) || block bytes                     found
//	'N' || id(4)                                    not found
//
// The id lets a connection carry many requests at once. An empty block is
// sent as 'B' with no payload, which is distinct from 'N'.
package peer

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bitfsorg/libblocks-go/block"
)

// MaxFrameSize bounds a frame body.
const MaxFrameSize = 64 << 20

// Frame kinds.
const (
	KindRequest  byte = 'Q'
	KindBlock    byte = 'B'
	KindNotFound byte = 'N'
)

const (
	headerLen  = 1 + 4
	hexHashLen = 2 * block.HashSize
)

// Request asks a peer for one block.
type Request struct {
	ID   uint32
	Hash block.Hash
}

// Response answers a Request with the same ID.
type Response struct {
	ID    uint32
	Found bool
	Data  []byte
}

// WriteFrame writes length || body.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed body. The length is checked before
// anything is allocated.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return body, nil
}

// Kind returns the kind byte of a frame body.
func Kind(body []byte) (byte, error) {
	if len(body) < headerLen {
		return 0, fmt.Errorf("%w: %d-byte body", ErrMalformedFrame, len(body))
	}
	return body[0], nil
}

// EncodeRequest builds a request body.
func EncodeRequest(req Request) []byte {
	body := make([]byte, headerLen, headerLen+hexHashLen)
	body[0] = KindRequest
	binary.BigEndian.PutUint32(body[1:5], req.ID)
	return append(body, req.Hash.String()...)
}

// DecodeRequest parses a request body.
func DecodeRequest(body []byte) (Request, error) {
	if len(body) != headerLen+hexHashLen || body[0] != KindRequest {
		return Request{}, fmt.Errorf("%w: not a request", ErrMalformedFrame)
	}
	hash, err := block.ParseHash(string(body[headerLen:]))
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return Request{ID: binary.BigEndian.Uint32(body[1:5]), Hash: hash}, nil
}

// EncodeResponse builds a found or not-found body.
func EncodeResponse(resp Response) []byte {
	if !resp.Found {
		body := make([]byte, headerLen)
		body[0] = KindNotFound
		binary.BigEndian.PutUint32(body[1:5], resp.ID)
		return body
	}
	body := make([]byte, headerLen, headerLen+len(resp.Data))
	body[0] = KindBlock
	binary.BigEndian.PutUint32(body[1:5], resp.ID)
	return append(body, resp.Data...)
}

// DecodeResponse parses a response body. Data aliases body.
func DecodeResponse(body []byte) (Response, error) {
	kind, err := Kind(body)
	if err != nil {
		return Response{}, err
	}
	id := binary.BigEndian.Uint32(body[1:5])
	switch kind {
	case KindBlock:
		return Response{ID: id, Found: true, Data: body[headerLen:]}, nil
	case KindNotFound:
		if len(body) != headerLen {
			return Response{}, fmt.Errorf("%w: trailing bytes after not-found", ErrMalformedFrame)
		}
		return Response{ID: id}, nil
	default:
		return Response{}, fmt.Errorf("%w: unexpected kind %q", ErrMalformedFrame, kind)
	}
}

// Verify checks that data hashes to hash.
func Verify(hash block.Hash, data []byte) error {
	if !hash.Verify(data) {
		return fmt.Errorf("%w: want %s", ErrHashMismatch, hash)
	}
	return nil
}
