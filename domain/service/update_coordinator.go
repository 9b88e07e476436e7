package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
)

var ErrNilCallback = errors.New("callback must not be nil")

type binding struct {
	id       uint64
	callback func()
}

// updateCoordinator routes categories to the refetch callbacks of mounted views
type updateCoordinator struct {
	mu     sync.RWMutex
	routes [model.NumCategories][]binding
	nextID uint64
	total  int
	logger outbound.Logger

	// lifecycleMu orders activity transitions with their hooks
	lifecycleMu sync.Mutex
	onActive    func()
	onIdle      func()
}

func NewUpdateCoordinator(logger outbound.Logger) *updateCoordinator {
	return &updateCoordinator{logger: logger}
}

// Subscribe binds callback to a data category. Notifications dispatched
// before the call are never replayed.
func (c *updateCoordinator) Subscribe(category model.UpdateCategory, callback func()) (func(), error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %d", model.ErrUnknownCategory, int(category))
	}
	if category == model.Heartbeat {
		return nil, model.ErrHeartbeatSubscription
	}
	if callback == nil {
		return nil, ErrNilCallback
	}

	c.lifecycleMu.Lock()
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.routes[category] = append(c.routes[category], binding{id: id, callback: callback})
	c.total++
	first := c.total == 1
	onActive := c.onActive
	c.mu.Unlock()

	if first && onActive != nil {
		c.runLifecycleHook("active", onActive)
	}
	c.lifecycleMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.remove(category, id) })
	}, nil
}

func (c *updateCoordinator) remove(category model.UpdateCategory, id uint64) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	removed := false
	bindings := c.routes[category]
	for i, b := range bindings {
		if b.id == id {
			// rebuild so a snapshot taken by a running Dispatch stays intact
			kept := make([]binding, 0, len(bindings)-1)
			kept = append(kept, bindings[:i]...)
			kept = append(kept, bindings[i+1:]...)
			c.routes[category] = kept
			c.total--
			removed = true
			break
		}
	}
	last := removed && c.total == 0
	onIdle := c.onIdle
	c.mu.Unlock()

	if last && onIdle != nil {
		c.runLifecycleHook("idle", onIdle)
	}
}

// SetLifecycle installs the hooks run when the first subscription is added
// and when the last one is removed. onActive runs right away if views are
// already subscribed. Hooks must not subscribe or unsubscribe.
func (c *updateCoordinator) SetLifecycle(onActive, onIdle func()) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	c.onActive = onActive
	c.onIdle = onIdle
	active := c.total > 0
	c.mu.Unlock()

	if active && onActive != nil {
		c.runLifecycleHook("active", onActive)
	}
}

func (c *updateCoordinator) runLifecycleHook(phase string, hook func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Lifecycle hook panicked", "phase", phase, "panic", r)
		}
	}()
	hook()
}

// Dispatch invokes the callbacks bound to the notification's category in
// registration order and returns how many of them panicked
func (c *updateCoordinator) Dispatch(notification model.Notification) int {
	if !notification.Category.IsData() {
		return 0
	}

	c.mu.RLock()
	bindings := c.routes[notification.Category]
	c.mu.RUnlock()

	failed := 0
	for _, b := range bindings {
		if !c.invoke(notification.Category, b) {
			failed++
		}
	}
	return failed
}

// invoke isolates a single callback so one failing view cannot starve the others
func (c *updateCoordinator) invoke(category model.UpdateCategory, b binding) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Update callback panicked", "category", category.String(), "subscription", b.id, "panic", r)
			ok = false
		}
	}()

	b.callback()
	return true
}

// Count returns the number of callbacks bound to a category
func (c *updateCoordinator) Count(category model.UpdateCategory) int {
	if !category.Valid() {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes[category])
}
