package outbound

import (
	"context"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
)

// defines operations for monitoring root directories for changes
type FileWatcher interface {
	// starts monitoring a root directory and everything below it.
	// A root that does not exist yet is not an error.
	Watch(ctx context.Context, root string) error

	// stops watching all roots and releases resources
	Stop() error

	// returns a channel of settled change events
	Events() <-chan model.ChangeEvent

	// returns a channel for receiving transient watch errors
	Errors() <-chan error

	// returns true if the watcher is currently monitoring at least one root
	IsWatching() bool

	// returns a list of currently watched directories
	GetWatchedPaths() []string
}
