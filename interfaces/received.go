package interfaces

import "context"

// ReceivedObjectHandler is notified once for every object the storage SCP has
// persisted. A returned error is reported to the sender as a processing
// failure; the stored file is kept.
type ReceivedObjectHandler interface {
	OnReceived(ctx context.Context, filePath, transferSyntaxUID, callingAETitle string) error
}

// ReceivedObjectHandlerFunc adapts a function to ReceivedObjectHandler.
type ReceivedObjectHandlerFunc func(ctx context.Context, filePath, transferSyntaxUID, callingAETitle string) error

// OnReceived implements ReceivedObjectHandler.
func (f ReceivedObjectHandlerFunc) OnReceived(ctx context.Context, filePath, transferSyntaxUID, callingAETitle string) error {
	return f(ctx, filePath, transferSyntaxUID, callingAETitle)
}
