package model

type RoomKind string

const (
	RoomKindDirect RoomKind = "direct"
	RoomKindGroup  RoomKind = "group"
	RoomKindAdmin  RoomKind = "admin"
)

// Room is a named channel grouping a set of members and a message history.
// Identity is ID; at most one room may be active per connection.
type Room struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Kind        RoomKind `json:"kind"`
	Members     []Member `json:"members,omitempty"`
}

type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}
