package outbound

// InstanceIDProvider names this dashboard process in status responses
type InstanceIDProvider interface {
	InstanceID() string
}
