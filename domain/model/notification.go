package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// UpdateCategory is the closed set of notification kinds pushed to subscribers
type UpdateCategory int

const (
	// TeamsChanged means a team roster config was written
	TeamsChanged UpdateCategory = iota
	// TasksChanged means a task file was created, modified or removed
	TasksChanged
	// ConversationsChanged means a conversation log changed
	ConversationsChanged
	// Heartbeat is used for liveness only, never for data refresh
	Heartbeat

	numCategories
)

// NumCategories is the size of the category set, used to size per-category slots
const NumCategories = int(numCategories)

var categoryWireNames = [numCategories]string{
	TeamsChanged:         "teams:update",
	TasksChanged:         "tasks:update",
	ConversationsChanged: "conversations:update",
	Heartbeat:            "ping",
}

// String returns the wire name of the category
func (c UpdateCategory) String() string {
	if !c.Valid() {
		return fmt.Sprintf("unknown(%d)", int(c))
	}
	return categoryWireNames[c]
}

// Valid reports whether c belongs to the closed category set
func (c UpdateCategory) Valid() bool {
	return c >= 0 && c < numCategories
}

// IsData reports whether notifications of this category should trigger a refetch
func (c UpdateCategory) IsData() bool {
	return c.Valid() && c != Heartbeat
}

// ParseUpdateCategory maps a wire name back to its category
func ParseUpdateCategory(s string) (UpdateCategory, error) {
	for i, name := range categoryWireNames {
		if name == s {
			return UpdateCategory(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// DataCategories returns every category that carries a refresh signal
func DataCategories() []UpdateCategory {
	return []UpdateCategory{TeamsChanged, TasksChanged, ConversationsChanged}
}

// Notification tells subscribers which resource to refetch. It carries no
// payload: consumers always reload the authoritative file-backed resource.
type Notification struct {
	Category  UpdateCategory
	EmittedAt time.Time
}

// NewNotification builds a notification stamped with now
func NewNotification(category UpdateCategory, now time.Time) Notification {
	return Notification{Category: category, EmittedAt: now}
}

// WireMessage is the JSON document sent over the broadcast transport
type WireMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// Encode serializes the notification into its wire form
func (n Notification) Encode() ([]byte, error) {
	if !n.Category.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, int(n.Category))
	}
	return json.Marshal(WireMessage{
		Type:      n.Category.String(),
		Timestamp: n.EmittedAt.UnixMilli(),
	})
}

// DecodeNotification parses one wire message
func DecodeNotification(data []byte) (Notification, error) {
	var msg WireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if msg.Type == "" {
		return Notification{}, fmt.Errorf("%w: missing type", ErrMalformedNotification)
	}

	category, err := ParseUpdateCategory(msg.Type)
	if err != nil {
		return Notification{}, err
	}

	return Notification{
		Category:  category,
		EmittedAt: time.UnixMilli(msg.Timestamp),
	}, nil
}
