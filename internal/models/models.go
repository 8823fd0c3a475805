package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrRoomClosed          = errors.New("room closed")
)

// User is an end-user identity derived from verified token claims.
type User struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// RoomInfo is a directory entry owned by the lobby.
// Users is a cache pushed by the room, not live membership.
type RoomInfo struct {
	ID        string `json:"id"`
	CreatedBy User   `json:"createdBy"`
	Users     []User `json:"users"`
}

// IsAdmin reports whether the user created the room.
func (r *RoomInfo) IsAdmin(user *User) bool {
	if r == nil || user == nil {
		return false
	}
	return r.CreatedBy.ID == user.ID
}

// ListedRoom is a RoomInfo as returned by the lobby listing.
type ListedRoom struct {
	RoomInfo
	Live bool `json:"live"` // Users came from the room itself rather than the lobby cache
}

// RoomSnapshot is what GET on a room returns.
type RoomSnapshot struct {
	Info     *RoomInfo   `json:"info"`
	Messages []ChatEvent `json:"messages"`
}

type ChatEventType string

const (
	ChatEventJoin     ChatEventType = "join"
	ChatEventLeave    ChatEventType = "leave"
	ChatEventMessage  ChatEventType = "message"
	ChatEventClear    ChatEventType = "clear"
	ChatEventClose    ChatEventType = "close"
	ChatEventPresence ChatEventType = "presence"
)

// ChatEvent is a room event. Only message and clear events are persisted.
type ChatEvent struct {
	Type    ChatEventType    `json:"type"`
	Seq     int64            `json:"seq,omitempty"`
	Payload ChatEventPayload `json:"payload"`
}

// ChatEventPayload is a flattened union of every room event payload.
type ChatEventPayload struct {
	User    *User      `json:"user,omitempty"`
	UserID  string     `json:"userId,omitempty"`
	Sent    *time.Time `json:"sent,omitempty"`
	Message string     `json:"message,omitempty"`
	Admin   bool       `json:"admin,omitempty"`
	Users   []User     `json:"users,omitempty"`
}

// PresenceEvent is the presence frame of every party. Users is always sent, empty or not.
type PresenceEvent struct {
	Type    ChatEventType   `json:"type"`
	Payload PresencePayload `json:"payload"`
}

type PresencePayload struct {
	Users []User `json:"users"`
}

func NewPresenceEvent(users []User) PresenceEvent {
	if users == nil {
		users = []User{}
	}
	return PresenceEvent{Type: ChatEventPresence, Payload: PresencePayload{Users: users}}
}

type LobbyEventType string

const (
	LobbyEventCreate   LobbyEventType = "create"
	LobbyEventJoin     LobbyEventType = "join"
	LobbyEventLeave    LobbyEventType = "leave"
	LobbyEventUpdate   LobbyEventType = "update"
	LobbyEventClose    LobbyEventType = "close"
	LobbyEventRoom     LobbyEventType = "room"
	LobbyEventPresence LobbyEventType = "presence"
)

// LobbyEvent travels on lobby sockets and on the lobby's service event channel.
type LobbyEvent struct {
	Type    LobbyEventType    `json:"type"`
	Payload LobbyEventPayload `json:"payload"`
}

type LobbyEventPayload struct {
	RoomID string    `json:"roomId,omitempty"`
	ID     string    `json:"id,omitempty"` // user id for leave
	User   *User     `json:"user,omitempty"`
	Users  []User    `json:"users,omitempty"`
	Room   *RoomInfo `json:"room,omitempty"`
}

// MembershipUpdate is the lobby update event. Users is always sent so an
// emptied room reads as users: [].
type MembershipUpdate struct {
	Type    LobbyEventType    `json:"type"`
	Payload MembershipPayload `json:"payload"`
}

type MembershipPayload struct {
	RoomID string `json:"roomId"`
	Users  []User `json:"users"`
}

func NewMembershipUpdate(roomID string, users []User) MembershipUpdate {
	if users == nil {
		users = []User{}
	}
	return MembershipUpdate{
		Type:    LobbyEventUpdate,
		Payload: MembershipPayload{RoomID: roomID, Users: users},
	}
}

// APIResponse is the generic JSON envelope for HTTP answers without a body of their own.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// PostMessageResponse is returned after a message is posted over HTTP.
type PostMessageResponse struct {
	Success bool      `json:"success"`
	Event   ChatEvent `json:"event"`
}

// RoomRequest identifies a room in service calls to the lobby.
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// PostMessageRequest is the body of POST on a room. User is honoured only for service callers.
type PostMessageRequest struct {
	User    *User  `json:"user,omitempty"`
	Message string `json:"message"`
}

// DedupeUsers keeps one entry per id in first-seen order; later entries overwrite display fields.
func DedupeUsers(users []User) []User {
	index := make(map[string]int, len(users))
	result := make([]User, 0, len(users))
	for _, u := range users {
		if i, ok := index[u.ID]; ok {
			result[i] = u
			continue
		}
		index[u.ID] = len(result)
		result = append(result, u)
	}
	return result
}
