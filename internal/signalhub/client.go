package signalhub

import "jobchat/backend/internal/models"

// Client is one listener connection of a user. A user may hold several at
// once (tabs, devices).
type Client interface {
	// UserID returns the participant the connection was authenticated as.
	UserID() string

	// SendChannel is where the hub drops signals for this connection. The hub
	// never blocks on it; a full channel drops the connection.
	SendChannel() chan<- models.Signal

	// Run starts the read and write pumps.
	Run()
	// Close stops the write pump, which closes the underlying connection.
	Close()
}
