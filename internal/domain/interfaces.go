package domain

import "context"

// FeedWorker defines the interface for upstream socket connectors
type FeedWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}
