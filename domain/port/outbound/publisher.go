package outbound

import "github.com/zengyi-thinking/Agent-team-dashboard/domain/model"

// Publisher fans a notification out to every connected subscriber
type Publisher interface {
	Publish(notification model.Notification)
}
