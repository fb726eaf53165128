package peer

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/bitfsorg/libblocks-go/block"
)

// ID names a connected peer.
type ID string

// Transport is the peer overlay as seen by the resolution cascade.
type Transport interface {
	// ConnectedPeers returns the peers a request can currently be sent to.
	ConnectedPeers() []ID

	// RequestBlock asks one peer for hash. ErrNotFound means the peer
	// answered with the not-found marker; any other error is a miss for
	// that peer only. Returned data is unverified.
	RequestBlock(ctx context.Context, id ID, hash block.Hash) ([]byte, error)
}

// BlockSource is where a Responder looks up requested blocks.
type BlockSource interface {
	Get(ctx context.Context, hash block.Hash) ([]byte, error)
}

// Responder answers incoming block requests from a local source. Every
// failure to produce the block, including a locked store, is answered with
// the not-found marker.
type Responder struct {
	src BlockSource
	log *logrus.Logger
}

// NewResponder creates a Responder. A nil logger uses logrus.New().
func NewResponder(src BlockSource, log *logrus.Logger) *Responder {
	if log == nil {
		log = logrus.New()
	}
	return &Responder{src: src, log: log}
}

// Answer produces the response for req.
func (r *Responder) Answer(ctx context.Context, req Request) Response {
	data, err := r.src.Get(ctx, req.Hash)
	if err != nil {
		entry := r.log.WithFields(logrus.Fields{"hash": req.Hash.String()}).WithError(err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			entry.Debug("peer: request abandoned")
		} else {
			entry.Debug("peer: answering not found")
		}
		return Response{ID: req.ID}
	}
	return Response{ID: req.ID, Found: true, Data: data}
}

// Handle decodes a request body and encodes the answer.
func (r *Responder) Handle(ctx context.Context, body []byte) ([]byte, error) {
	req, err := DecodeRequest(body)
	if err != nil {
		return nil, err
	}
	return EncodeResponse(r.Answer(ctx, req)), nil
}
