package outbound

// Logger is the structured logger used by the watch, dispatch and broadcast
// paths. Implementations must not block the caller.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}
