// Package messaging connects chat transports to the flow controller.
package messaging

import (
	"context"

	"github.com/BTreeMap/NutriPipe/internal/models"
)

// Service defines a pluggable chat transport.
// It decodes inbound updates into events and delivers replies.
type Service interface {
	// SendReply delivers a single reply to a transport address.
	SendReply(ctx context.Context, to string, reply models.Reply) error

	// NotifyProcessing tells the user a reply is on its way (e.g. a typing indicator).
	NotifyProcessing(ctx context.Context, to string) error

	// Start begins any background processing (e.g., polling for updates).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Events returns a channel of decoded inbound events. It is closed after Stop.
	Events() <-chan models.Event
}
