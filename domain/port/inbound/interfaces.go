package inbound

import (
	"context"
	"time"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
)

// DispatcherStats is a snapshot of the dispatcher counters
type DispatcherStats struct {
	RawEvents     int64                `json:"rawEvents"`
	Dropped       int64                `json:"dropped"`
	Published     map[string]int64     `json:"published"`
	LastPublished map[string]time.Time `json:"lastPublished"`
}

// DispatcherService turns raw change events into coalesced notifications
type DispatcherService interface {
	// Start consumes the watcher events until Stop or ctx cancellation
	Start(ctx context.Context) error

	// Stop cancels pending debounce timers and stops consuming events
	Stop() error

	// Stats returns the dispatcher counters
	Stats() DispatcherStats
}

// UpdateCoordinator routes notifications to the callbacks registered by views
type UpdateCoordinator interface {
	// Subscribe binds a callback to a data category; the returned func removes it
	Subscribe(category model.UpdateCategory, callback func()) (func(), error)

	// Dispatch invokes every callback bound to the notification's category
	Dispatch(notification model.Notification) int

	// Count returns the number of callbacks bound to a category
	Count(category model.UpdateCategory) int

	// SetLifecycle installs hooks for the first subscription and the last unsubscribe
	SetLifecycle(onActive, onIdle func())
}

// HandshakeService mints and validates the tokens required by the broadcast
// endpoint when a token secret is configured
type HandshakeService interface {
	// Enabled reports whether connections must present a token
	Enabled() bool

	// MintToken signs a token for subject
	MintToken(subject string) (string, error)

	// ValidateToken returns the subject of a valid token
	ValidateToken(token string) (string, error)
}
