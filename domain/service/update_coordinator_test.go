package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
)

func TestUpdateCoordinator_RoutesByCategory(t *testing.T) {
	coordinator := NewUpdateCoordinator(&mockLogger{})

	var teams, tasks int
	_, err := coordinator.Subscribe(model.TeamsChanged, func() { teams++ })
	require.NoError(t, err)
	_, err = coordinator.Subscribe(model.TasksChanged, func() { tasks++ })
	require.NoError(t, err)

	coordinator.Dispatch(model.NewNotification(model.TasksChanged, time.Now()))
	assert.Equal(t, 0, teams)
	assert.Equal(t, 1, tasks)

	// conversations has no subscribers
	assert.Equal(t, 0, coordinator.Dispatch(model.NewNotification(model.ConversationsChanged, time.Now())))
	assert.Equal(t, 1, tasks)
}

func TestUpdateCoordinator_FanOutInRegistrationOrder(t *testing.T) {
	coordinator := NewUpdateCoordinator(&mockLogger{})

	var order []string
	for _, name := range []string{"team-list", "team-detail", "sidebar"} {
		name := name
		_, err := coordinator.Subscribe(model.TeamsChanged, func() { order = append(order, name) })
		require.NoError(t, err)
	}
	assert.Equal(t, 3, coordinator.Count(model.TeamsChanged))

	coordinator.Dispatch(model.NewNotification(model.TeamsChanged, time.Now()))
	assert.Equal(t, []string{"team-list", "team-detail", "sidebar"}, order)
}

func TestUpdateCoordinator_PanickingCallbackDoesNotStarveOthers(t *testing.T) {
	coordinator := NewUpdateCoordinator(&mockLogger{})

	var after int
	_, err := coordinator.Subscribe(model.TasksChanged, func() { panic("refetch failed") })
	require.NoError(t, err)
	_, err = coordinator.Subscribe(model.TasksChanged, func() { after++ })
	require.NoError(t, err)

	failed := coordinator.Dispatch(model.NewNotification(model.TasksChanged, time.Now()))
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, after)

	// the failing callback stays subscribed
	failed = coordinator.Dispatch(model.NewNotification(model.TasksChanged, time.Now()))
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, after)
}

func TestUpdateCoordinator_Unsubscribe(t *testing.T) {
	coordinator := NewUpdateCoordinator(&mockLogger{})

	var first, second int
	unsubscribe, err := coordinator.Subscribe(model.ConversationsChanged, func() { first++ })
	require.NoError(t, err)
	_, err = coordinator.Subscribe(model.ConversationsChanged, func() { second++ })
	require.NoError(t, err)

	unsubscribe()
	unsubscribe() // idempotent

	assert.Equal(t, 1, coordinator.Count(model.ConversationsChanged))

	coordinator.Dispatch(model.NewNotification(model.ConversationsChanged, time.Now()))
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestUpdateCoordinator_UnsubscribeDuringDispatch(t *testing.T) {
	coordinator := NewUpdateCoordinator(&mockLogger{})

	var calls []int
	var unsubscribeSecond func()
	_, err := coordinator.Subscribe(model.TasksChanged, func() {
		calls = append(calls, 1)
		unsubscribeSecond()
	})
	require.NoError(t, err)
	unsubscribeSecond, err = coordinator.Subscribe(model.TasksChanged, func() { calls = append(calls, 2) })
	require.NoError(t, err)

	// the running dispatch works on its own snapshot
	coordinator.Dispatch(model.NewNotification(model.TasksChanged, time.Now()))
	assert.Equal(t, []int{1, 2}, calls)

	coordinator.Dispatch(model.NewNotification(model.TasksChanged, time.Now()))
	assert.Equal(t, []int{1, 2, 1}, calls)
}

func TestUpdateCoordinator_RejectsInvalidSubscriptions(t *testing.T) {
	coordinator := NewUpdateCoordinator(&mockLogger{})

	_, err := coordinator.Subscribe(model.Heartbeat, func() {})
	assert.ErrorIs(t, err, model.ErrHeartbeatSubscription)

	_, err = coordinator.Subscribe(model.UpdateCategory(42), func() {})
	assert.ErrorIs(t, err, model.ErrUnknownCategory)

	_, err = coordinator.Subscribe(model.TasksChanged, nil)
	assert.ErrorIs(t, err, ErrNilCallback)

	assert.Equal(t, 0, coordinator.Count(model.UpdateCategory(42)))
}

func TestUpdateCoordinator_HeartbeatIsNeverRouted(t *testing.T) {
	coordinator := NewUpdateCoordinator(&mockLogger{})

	called := false
	for _, category := range model.DataCategories() {
		_, err := coordinator.Subscribe(category, func() { called = true })
		require.NoError(t, err)
	}

	assert.Equal(t, 0, coordinator.Dispatch(model.NewNotification(model.Heartbeat, time.Now())))
	assert.False(t, called)
}

func TestUpdateCoordinator_NoReplayForLateSubscribers(t *testing.T) {
	coordinator := NewUpdateCoordinator(&mockLogger{})

	coordinator.Dispatch(model.NewNotification(model.TeamsChanged, time.Now()))

	calls := 0
	_, err := coordinator.Subscribe(model.TeamsChanged, func() { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 0, calls)

	coordinator.Dispatch(model.NewNotification(model.TeamsChanged, time.Now()))
	assert.Equal(t, 1, calls)
}

func TestUpdateCoordinator_ConcurrentSubscribeAndDispatch(t *testing.T) {
	coordinator := NewUpdateCoordinator(&mockLogger{})

	var mu sync.Mutex
	calls := 0
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsubscribe, err := coordinator.Subscribe(model.TasksChanged, func() {
				mu.Lock()
				calls++
				mu.Unlock()
			})
			if err == nil {
				unsubscribe()
			}
		}()
		go func() {
			defer wg.Done()
			coordinator.Dispatch(model.NewNotification(model.TasksChanged, time.Now()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, coordinator.Count(model.TasksChanged))
}

func TestUpdateCoordinator_LifecycleFollowsFirstAndLastSubscription(t *testing.T) {
	coordinator := NewUpdateCoordinator(&mockLogger{})

	var events []string
	coordinator.SetLifecycle(
		func() { events = append(events, "active") },
		func() { events = append(events, "idle") },
	)

	unsubTeams, err := coordinator.Subscribe(model.TeamsChanged, func() {})
	require.NoError(t, err)
	unsubTasks, err := coordinator.Subscribe(model.TasksChanged, func() {})
	require.NoError(t, err)
	assert.Equal(t, []string{"active"}, events)

	unsubTeams()
	assert.Equal(t, []string{"active"}, events, "a view is still subscribed")

	unsubTasks()
	unsubTasks()
	assert.Equal(t, []string{"active", "idle"}, events)

	// a new first subscription reactivates
	_, err = coordinator.Subscribe(model.ConversationsChanged, func() {})
	require.NoError(t, err)
	assert.Equal(t, []string{"active", "idle", "active"}, events)
}

func TestUpdateCoordinator_LifecycleInstalledAfterSubscriptions(t *testing.T) {
	coordinator := NewUpdateCoordinator(&mockLogger{})

	_, err := coordinator.Subscribe(model.TasksChanged, func() {})
	require.NoError(t, err)

	active := 0
	coordinator.SetLifecycle(func() { active++ }, nil)
	assert.Equal(t, 1, active)

	// rejected subscriptions never count
	_, err = coordinator.Subscribe(model.Heartbeat, func() {})
	assert.Error(t, err)
	assert.Equal(t, 1, active)
}

func TestUpdateCoordinator_PanickingLifecycleHookIsContained(t *testing.T) {
	coordinator := NewUpdateCoordinator(&mockLogger{})
	coordinator.SetLifecycle(func() { panic("connect failed") }, nil)

	unsubscribe, err := coordinator.Subscribe(model.TasksChanged, func() {})
	require.NoError(t, err)
	assert.Equal(t, 1, coordinator.Count(model.TasksChanged))
	assert.NotPanics(t, unsubscribe)
}
