package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/inbound"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
)

// DefaultDebounceWindow is the per-category coalescing window
const DefaultDebounceWindow = 300 * time.Millisecond

// one debounce slot per category; gen invalidates timers that were replaced
type debounceSlot struct {
	timer *time.Timer
	gen   uint64
}

type dispatcherService struct {
	watcher    outbound.FileWatcher
	classifier *Classifier
	publisher  outbound.Publisher
	logger     outbound.Logger
	window     time.Duration
	now        func() time.Time

	slots         [model.NumCategories]debounceSlot
	published     [model.NumCategories]int64
	lastPublished [model.NumCategories]time.Time
	rawEvents     atomic.Int64
	dropped       atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewDispatcherService(
	watcher outbound.FileWatcher,
	classifier *Classifier,
	publisher outbound.Publisher,
	window time.Duration,
	logger outbound.Logger,
) *dispatcherService {
	if window < 0 {
		window = 0
	}

	return &dispatcherService{
		watcher:    watcher,
		classifier: classifier,
		publisher:  publisher,
		logger:     logger,
		window:     window,
		now:        time.Now,
	}
}

// begins consuming watcher events
func (s *dispatcherService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("Dispatcher already running")
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.processEvents(loopCtx, s.done)

	s.logger.Info("Dispatcher started", "window", s.window.String(), "roots", s.classifier.Roots())
	return nil
}

// stops the dispatcher and the underlying watcher
func (s *dispatcherService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.done

	// pending bursts are dropped, nobody is left to refetch
	for i := range s.slots {
		if s.slots[i].timer != nil {
			s.slots[i].timer.Stop()
			s.slots[i].timer = nil
		}
		s.slots[i].gen++
	}
	s.mu.Unlock()

	<-done

	if err := s.watcher.Stop(); err != nil {
		s.logger.Error("Error stopping file watcher", "error", err)
		return err
	}

	s.logger.Info("Dispatcher stopped")
	return nil
}

// handles watcher events in a loop
func (s *dispatcherService) processEvents(ctx context.Context, done chan struct{}) {
	defer close(done)

	events := s.watcher.Events()
	errs := s.watcher.Errors()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				s.logger.Warn("File watcher event stream closed")
				return
			}
			s.HandleChange(event)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// transient, the watch continues
			s.logger.Warn("File watcher error", "error", err)
		}
	}
}

// HandleChange classifies one change event and arms its category slot
func (s *dispatcherService) HandleChange(event model.ChangeEvent) {
	s.rawEvents.Add(1)

	category, ok := s.classifier.Classify(event.Path)
	if !ok {
		s.dropped.Add(1)
		s.logger.Debug("Ignoring unclassified change", "path", event.Path, "kind", event.Kind.String())
		return
	}

	s.logger.Debug("Change classified", "path", event.Path, "kind", event.Kind.String(), "category", category.String())
	s.debounce(category)
}

// debounce restarts the category's timer; only the last timer of a burst publishes
func (s *dispatcherService) debounce(category model.UpdateCategory) {
	s.mu.Lock()

	// changes that race with Stop are dropped
	if !s.running {
		s.mu.Unlock()
		s.logger.Debug("Dispatcher stopped, dropping change", "category", category.String())
		return
	}

	if s.window == 0 {
		s.mu.Unlock()
		s.publish(category)
		return
	}

	slot := &s.slots[category]
	if slot.timer != nil {
		slot.timer.Stop()
	}
	slot.gen++
	gen := slot.gen

	slot.timer = time.AfterFunc(s.window, func() {
		s.mu.Lock()
		if !s.running || s.slots[category].gen != gen {
			s.mu.Unlock()
			return
		}
		s.slots[category].timer = nil
		s.mu.Unlock()

		s.publish(category)
	})
	s.mu.Unlock()
}

func (s *dispatcherService) publish(category model.UpdateCategory) {
	notification := model.NewNotification(category, s.now())

	s.mu.Lock()
	s.published[category]++
	s.lastPublished[category] = notification.EmittedAt
	s.mu.Unlock()

	s.logger.Info("Publishing update", "category", category.String())
	s.publisher.Publish(notification)
}

// Stats returns the dispatcher counters
func (s *dispatcherService) Stats() inbound.DispatcherStats {
	stats := inbound.DispatcherStats{
		RawEvents:     s.rawEvents.Load(),
		Dropped:       s.dropped.Load(),
		Published:     make(map[string]int64),
		LastPublished: make(map[string]time.Time),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, category := range model.DataCategories() {
		stats.Published[category.String()] = s.published[category]
		if !s.lastPublished[category].IsZero() {
			stats.LastPublished[category.String()] = s.lastPublished[category]
		}
	}

	return stats
}
