package model

// ChangeKind is the type of filesystem mutation observed by the watch source
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeModified
	ChangeDeleted
	ChangeRenamed
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "create"
	case ChangeModified:
		return "modify"
	case ChangeDeleted:
		return "delete"
	case ChangeRenamed:
		return "rename"
	default:
		return "unknown"
	}
}

// ChangeEvent is emitted once per settled filesystem mutation
type ChangeEvent struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}
