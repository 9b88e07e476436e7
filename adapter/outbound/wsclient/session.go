package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/inbound"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
)

// DefaultPingInterval is the client-side liveness ping period
const DefaultPingInterval = 30 * time.Second

// ErrReconnectExhausted is reported once automatic reconnection gives up
var ErrReconnectExhausted = errors.New("reconnection failed")

// Options configures a subscriber session
type Options struct {
	URL string

	// Token is sent as a bearer token when the server requires a handshake
	Token string

	PingInterval time.Duration
	Backoff      model.BackoffPolicy

	// hooks run outside the session lock and may call back into the session
	OnStateChange        func(from, to model.ConnectionState)
	OnReconnectScheduled func(attempt int, delay time.Duration)
	OnTerminalFailure    func(err error)
	OnNotification       func(notification model.Notification)
}

// Session is the client side of the broadcast channel. It keeps one
// connection open, reconnects with capped exponential backoff and hands every
// notification to the update coordinator.
type Session struct {
	opts        Options
	dialer      Dialer
	coordinator inbound.UpdateCoordinator
	logger      outbound.Logger

	mu         sync.Mutex
	state      model.ConnectionState
	backoff    model.ReconnectState
	exhausted  bool
	lastErr    error
	generation uint64 // bumped on every teardown, stale callbacks compare against it
	conn       Conn
	cancelDial context.CancelFunc
	retryTimer *time.Timer
	stopPing   chan struct{}

	// hooks and deferred closes queued under mu, run after unlock
	pending []func()

	dispatchMu sync.Mutex
}

func NewSession(opts Options, dialer Dialer, coordinator inbound.UpdateCoordinator, logger outbound.Logger) *Session {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = model.DefaultBackoffPolicy()
	}

	return &Session{
		opts:        opts,
		dialer:      dialer,
		coordinator: coordinator,
		logger:      logger,
		state:       model.Disconnected,
		backoff:     model.NewReconnectState(opts.Backoff),
	}
}

// Connect opens the connection. It is a no-op unless the session is idle:
// already connecting, connected, waiting for a retry or exhausted.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.state != model.Disconnected || s.retryTimer != nil || s.exhausted {
		s.logger.Debug("Connect ignored", "state", s.state.String(), "exhausted", s.exhausted)
		s.mu.Unlock()
		return
	}
	s.startLocked()
	s.unlockAndRunPending()
}

// Reconnect tears everything down, resets the backoff and connects right away.
// It is the only way out of a terminal failure.
func (s *Session) Reconnect() {
	s.mu.Lock()
	s.teardownLocked()
	s.backoff = model.NewReconnectState(s.opts.Backoff)
	s.exhausted = false
	s.lastErr = nil
	s.logger.Info("Manual reconnect requested", "url", s.opts.URL)
	s.startLocked()
	s.unlockAndRunPending()
}

// Disconnect closes the connection and cancels every timer. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.teardownLocked()
	s.backoff = model.NewReconnectState(s.opts.Backoff)
	s.setStateLocked(model.Disconnected)
	s.unlockAndRunPending()
}

func (s *Session) State() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Backoff returns the current reconnect state
func (s *Session) Backoff() model.ReconnectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff
}

// Exhausted reports whether automatic reconnection has given up
func (s *Session) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

// LastError returns the error behind the most recent close
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) startLocked() {
	s.setStateLocked(model.Connecting)

	gen := s.generation
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDial = cancel

	go s.dial(ctx, gen)
}

func (s *Session) dial(ctx context.Context, gen uint64) {
	conn, err := s.dialer.Dial(ctx, s.opts.URL, s.header())

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		s.handleCloseLocked(err)
		s.unlockAndRunPending()
		return
	}

	s.cancelDial = nil
	s.conn = conn
	s.backoff = model.NewReconnectState(s.opts.Backoff)
	s.lastErr = nil
	stop := make(chan struct{})
	s.stopPing = stop
	s.setStateLocked(model.Connected)
	s.logger.Info("Connected to broadcast channel", "url", s.opts.URL)
	s.unlockAndRunPending()

	go s.readLoop(conn, gen)
	go s.pingLoop(conn, gen, stop)
}

func (s *Session) header() http.Header {
	header := http.Header{}
	if s.opts.Token != "" {
		header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	return header
}

func (s *Session) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.connectionLost(gen, err)
			return
		}
		s.deliver(gen, data)
	}
}

// pingLoop pings the server; a failed write means the transport is no longer open
func (s *Session) pingLoop(conn Conn, gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ping, err := model.NewNotification(model.Heartbeat, time.Now()).Encode()
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(ping); err != nil {
				s.connectionLost(gen, fmt.Errorf("liveness ping: %w", err))
				return
			}
		}
	}
}

// deliver parses one message and runs the bound callbacks. Notifications are
// handled one at a time, in arrival order.
func (s *Session) deliver(gen uint64, data []byte) {
	notification, err := model.DecodeNotification(data)
	if err != nil {
		s.logger.Warn("Dropping malformed notification", "error", err)
		return
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	current := gen == s.generation
	s.mu.Unlock()
	if !current {
		return
	}

	if notification.Category.IsData() {
		if failed := s.coordinator.Dispatch(notification); failed > 0 {
			s.logger.Warn("Update callbacks failed", "type", notification.Category.String(), "failed", failed)
		}
	}

	if s.opts.OnNotification != nil {
		s.runHook(func() { s.opts.OnNotification(notification) })
	}
}

func (s *Session) connectionLost(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.handleCloseLocked(err)
	s.unlockAndRunPending()
}

// handleCloseLocked moves to Disconnected and either schedules the next
// attempt or gives up for good
func (s *Session) handleCloseLocked(cause error) {
	s.teardownLocked()
	s.lastErr = cause
	s.setStateLocked(model.Disconnected)

	delay, ok := s.backoff.Advance(s.opts.Backoff)
	if !ok {
		s.exhausted = true
		s.logger.Error("Reconnection failed, giving up",
			"attempts", s.backoff.Attempt, "error", cause)
		if hook := s.opts.OnTerminalFailure; hook != nil {
			err := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, s.backoff.Attempt, cause)
			s.pending = append(s.pending, func() { hook(err) })
		}
		return
	}

	attempt := s.backoff.Attempt
	s.logger.Warn("Connection lost, reconnecting",
		"attempt", attempt, "delay", delay.String(), "error", cause)

	gen := s.generation
	s.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return
		}
		s.retryTimer = nil
		s.startLocked()
		s.unlockAndRunPending()
	})

	if hook := s.opts.OnReconnectScheduled; hook != nil {
		s.pending = append(s.pending, func() { hook(attempt, delay) })
	}
}

// teardownLocked invalidates the current generation and releases the
// connection, the dial in flight and both timers
func (s *Session) teardownLocked() {
	s.generation++

	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.stopPing != nil {
		close(s.stopPing)
		s.stopPing = nil
	}
	if conn := s.conn; conn != nil {
		s.conn = nil
		s.pending = append(s.pending, func() { conn.Close() })
	}
}

func (s *Session) setStateLocked(to model.ConnectionState) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.logger.Debug("Connection state changed", "from", from.String(), "to", to.String())

	if hook := s.opts.OnStateChange; hook != nil {
		s.pending = append(s.pending, func() { hook(from, to) })
	}
}

func (s *Session) unlockAndRunPending() {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, fn := range pending {
		s.runHook(fn)
	}
}

// runHook keeps a panicking hook from killing the session
func (s *Session) runHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Session hook panicked", "panic", r)
		}
	}()
	fn()
}
