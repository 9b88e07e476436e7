package model

import "time"

// ConnectionState is the subscriber session's position in its state machine
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// BackoffPolicy defines the reconnect schedule of a subscriber session
type BackoffPolicy struct {
	// Delay before the first reconnect
	Base time.Duration `yaml:"base"`

	// Upper bound for any single delay
	Cap time.Duration `yaml:"cap"`

	// Number of reconnects attempted before giving up
	MaxAttempts int `yaml:"maxAttempts"`
}

// DefaultBackoffPolicy mirrors the dashboard defaults: 1s doubling to 30s, 5 attempts
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:        1 * time.Second,
		Cap:         30 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns min(cap, base * 2^attempt)
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.Cap > 0 && delay >= p.Cap {
			return p.Cap
		}
	}
	if p.Cap > 0 && delay > p.Cap {
		return p.Cap
	}
	return delay
}

// ReconnectState tracks consecutive abnormal closes
type ReconnectState struct {
	Attempt   int
	NextDelay time.Duration
}

// NewReconnectState returns the state after a successful connection
func NewReconnectState(policy BackoffPolicy) ReconnectState {
	return ReconnectState{Attempt: 0, NextDelay: policy.Delay(0)}
}

// Exhausted reports whether no further automatic reconnect is allowed
func (r ReconnectState) Exhausted(policy BackoffPolicy) bool {
	return r.Attempt >= policy.MaxAttempts
}

// Advance consumes one attempt. It returns the delay to wait and false when
// the policy is exhausted, in which case the state is left untouched.
func (r *ReconnectState) Advance(policy BackoffPolicy) (time.Duration, bool) {
	if r.Exhausted(policy) {
		return 0, false
	}
	delay := r.NextDelay
	r.Attempt++
	r.NextDelay = policy.Delay(r.Attempt)
	return delay, true
}
