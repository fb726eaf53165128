package peer

import (
	"context"

	"github.com/bitfsorg/libblocks-go/block"
)

// MockTransport is a test double for Transport.
// All function fields must be set before the corresponding method is called.
type MockTransport struct {
	ConnectedPeersFn func() []ID
	RequestBlockFn   func(ctx context.Context, id ID, hash block.Hash) ([]byte, error)
}

var _ Transport = (*MockTransport)(nil)

func (m *MockTransport) ConnectedPeers() []ID {
	return m.ConnectedPeersFn()
}
func (m *MockTransport) RequestBlock(ctx context.Context, id ID, hash block.Hash) ([]byte, error) {
	return m.RequestBlockFn(ctx, id, hash)
}
