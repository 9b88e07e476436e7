package model

import "errors"

var (
	ErrUnknownCategory       = errors.New("unknown update category")
	ErrMalformedNotification = errors.New("malformed notification")
	ErrHeartbeatSubscription = errors.New("heartbeat cannot be subscribed to")
	ErrSubscriberClosed      = errors.New("subscriber closed")
	ErrSubscriberQueueFull   = errors.New("subscriber send queue full")
)
