package network

import (
	"context"

	"github.com/bitfsorg/libblocks-go/block"
)

// MockOrigin is a test double for the origin server client.
// All function fields must be set before the corresponding method is called.
type MockOrigin struct {
	FetchBlockFn func(ctx context.Context, hash block.Hash) ([]byte, error)
}

func (m *MockOrigin) FetchBlock(ctx context.Context, hash block.Hash) ([]byte, error) {
	return m.FetchBlockFn(ctx, hash)
}
