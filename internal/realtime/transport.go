package realtime

import "context"

// Dialer opens one transport connection. Reconnection is the Channel's job;
// a Dialer only ever makes a single attempt.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is a message oriented connection. Receive blocks until a frame
// arrives, the connection fails or ctx is done. Close unblocks Receive.
type Conn interface {
	Send(ctx context.Context, f Frame) error
	Receive(ctx context.Context) (Frame, error)
	Close() error
}
