package machineid

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
)

const (
	appID          = "agent-team-dashboard"
	instancePrefix = "dash-"
	idLength       = 12
)

type instanceIDProvider struct {
	protectedID func(appID string) (string, error)
	newUUID     func() string
	logger      outbound.Logger
}

// NewInstanceIDProvider derives a stable id from the host's machine id. The
// raw machine id never leaves the process, only an app-scoped hash of it.
func NewInstanceIDProvider(logger outbound.Logger) outbound.InstanceIDProvider {
	return &instanceIDProvider{
		protectedID: machineid.ProtectedID,
		newUUID:     func() string { return uuid.New().String() },
		logger:      logger,
	}
}

// InstanceID falls back to a random id when the machine id is unreadable
// (containers without /etc/machine-id)
func (p *instanceIDProvider) InstanceID() string {
	id, err := p.protectedID(appID)
	if err != nil || len(id) < idLength {
		p.logger.Warn("Machine id unavailable, using a random instance id", "error", err)
		return instancePrefix + p.newUUID()[:idLength]
	}
	return instancePrefix + id[:idLength]
}
