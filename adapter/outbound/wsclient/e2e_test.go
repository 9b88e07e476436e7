package wsclient

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zengyi-thinking/Agent-team-dashboard/adapter/inbound/websocket"
	"github.com/zengyi-thinking/Agent-team-dashboard/adapter/outbound/filewatcher"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/service"
)

type pipeline struct {
	base      string
	hub       *websocket.Hub
	session   *Session
	callbacks map[model.UpdateCategory]*atomic.Int32
}

func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	logger := &mockLogger{}

	base := t.TempDir()
	for _, dir := range []string{"teams", "tasks", "conversations"} {
		require.NoError(t, os.Mkdir(filepath.Join(base, dir), 0755))
	}

	watcher, err := filewatcher.NewFSWatcher(20*time.Millisecond, logger)
	require.NoError(t, err)

	classifier, err := service.NewClassifier(service.ClassifierConfig{
		TeamsDir:         filepath.Join(base, "teams"),
		TasksDir:         filepath.Join(base, "tasks"),
		ConversationsDir: filepath.Join(base, "conversations"),
		TeamConfigFile:   "config.json",
		TaskLockSuffix:   ".lock",
	})
	require.NoError(t, err)

	for _, root := range classifier.Roots() {
		require.NoError(t, watcher.Watch(context.Background(), root))
	}

	hub := websocket.NewHub(time.Hour, logger)
	dispatcher := service.NewDispatcherService(watcher, classifier, hub, 100*time.Millisecond, logger)
	require.NoError(t, dispatcher.Start(context.Background()))

	server := httptest.NewServer(websocket.NewHandler(hub, websocket.HandlerOptions{}, logger))

	coordinator := service.NewUpdateCoordinator(logger)
	p := &pipeline{base: base, hub: hub, callbacks: make(map[model.UpdateCategory]*atomic.Int32)}
	for _, category := range model.DataCategories() {
		counter := &atomic.Int32{}
		p.callbacks[category] = counter
		_, err := coordinator.Subscribe(category, func() { counter.Add(1) })
		require.NoError(t, err)
	}

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	p.session = NewSession(Options{URL: url, Backoff: testPolicy}, NewDialer(time.Second, time.Second), coordinator, logger)

	t.Cleanup(func() {
		p.session.Disconnect()
		dispatcher.Stop()
		hub.Close()
		server.Close()
	})

	p.session.Connect()
	waitForState(t, p.session, model.Connected)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	return p
}

func (p *pipeline) count(category model.UpdateCategory) int {
	return int(p.callbacks[category].Load())
}

func TestEndToEnd_BulkTaskCreationRefetchesOnce(t *testing.T) {
	p := startPipeline(t)

	teamDir := filepath.Join(p.base, "tasks", "team-a")
	require.NoError(t, os.Mkdir(teamDir, 0755))
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(teamDir, fmt.Sprintf("%d.json", i)), []byte(`{}`), 0644))
	}

	require.Eventually(t, func() bool { return p.count(model.TasksChanged) == 1 }, 3*time.Second, 10*time.Millisecond)

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, p.count(model.TasksChanged))
	assert.Equal(t, 0, p.count(model.TeamsChanged))
	assert.Equal(t, 0, p.count(model.ConversationsChanged))
}

func TestEndToEnd_TeamConfigAndConversations(t *testing.T) {
	p := startPipeline(t)

	teamDir := filepath.Join(p.base, "teams", "alpha")
	require.NoError(t, os.Mkdir(teamDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(teamDir, "config.json"), []byte(`{"members":[]}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(p.base, "conversations", "session.jsonl"), []byte("{}\n"), 0644))

	require.Eventually(t, func() bool {
		return p.count(model.TeamsChanged) == 1 && p.count(model.ConversationsChanged) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, p.count(model.TasksChanged))
}

func TestEndToEnd_LockFilesAndStrayPathsAreSilent(t *testing.T) {
	p := startPipeline(t)

	teamDir := filepath.Join(p.base, "tasks", "team-a")
	require.NoError(t, os.Mkdir(teamDir, 0755))
	// let the directory's own notification go through first
	require.Eventually(t, func() bool { return p.count(model.TasksChanged) == 1 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(teamDir, ".lock"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(p.base, "teams", "notes.md"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(p.base, "settings.json"), []byte("{}"), 0644))

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, p.count(model.TasksChanged))
	assert.Equal(t, 0, p.count(model.TeamsChanged))
}

func TestEndToEnd_ClientGivesUpWhenServerRefuses(t *testing.T) {
	p := startPipeline(t)

	// a closed hub drops every session and refuses new upgrades
	p.hub.Close()

	require.Eventually(t, p.session.Exhausted, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.Disconnected, p.session.State())
	assert.ErrorContains(t, p.session.LastError(), "status 503")
}
