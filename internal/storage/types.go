package storage

import (
	"parlor/internal/models"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type DBUser struct {
	ID     string `msgpack:"id"`
	Name   string `msgpack:"name"`
	Avatar string `msgpack:"avatar"`
}

func NewDBUser(u models.User) DBUser {
	return DBUser{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

func (u DBUser) Model() models.User {
	return models.User{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

// DBRoom is one lobby directory entry.
type DBRoom struct {
	ID        string   `msgpack:"id"`
	CreatedBy DBUser   `msgpack:"createdBy"`
	Users     []DBUser `msgpack:"users"`
}

func NewDBRoom(r models.RoomInfo) DBRoom {
	users := make([]DBUser, len(r.Users))
	for i, u := range r.Users {
		users[i] = NewDBUser(u)
	}
	return DBRoom{ID: r.ID, CreatedBy: NewDBUser(r.CreatedBy), Users: users}
}

func (r DBRoom) Model() models.RoomInfo {
	users := make([]models.User, len(r.Users))
	for i, u := range r.Users {
		users[i] = u.Model()
	}
	return models.RoomInfo{ID: r.ID, CreatedBy: r.CreatedBy.Model(), Users: users}
}

// DBDirectory is the whole lobby directory, stored under a single key.
// Closed keeps the ids of removed rooms so they are never handed out again.
type DBDirectory struct {
	Rooms  []DBRoom `msgpack:"rooms"`
	Closed []string `msgpack:"closed,omitempty"`
}

func (d *DBDirectory) MarshalBinary() (data []byte, err error) {
	type alias DBDirectory
	return msgpack.Marshal((*alias)(d))
}

func (d *DBDirectory) UnmarshalBinary(data []byte) error {
	type alias DBDirectory
	return msgpack.Unmarshal(data, (*alias)(d))
}

// DBEvent is one persisted room log entry.
type DBEvent struct {
	Seq       int64   `msgpack:"seq"`
	Type      string  `msgpack:"type"`
	Timestamp int64   `msgpack:"timestamp"` // Unix milliseconds
	User      *DBUser `msgpack:"user,omitempty"`
	Message   string  `msgpack:"message,omitempty"`
}

func NewDBEvent(e models.ChatEvent) DBEvent {
	dbEvent := DBEvent{
		Seq:     e.Seq,
		Type:    string(e.Type),
		Message: e.Payload.Message,
	}
	if e.Payload.Sent != nil {
		dbEvent.Timestamp = e.Payload.Sent.UnixMilli()
	}
	if e.Payload.User != nil {
		u := NewDBUser(*e.Payload.User)
		dbEvent.User = &u
	}
	return dbEvent
}

func (e DBEvent) Model() models.ChatEvent {
	event := models.ChatEvent{
		Type: models.ChatEventType(e.Type),
		Seq:  e.Seq,
		Payload: models.ChatEventPayload{
			Message: e.Message,
		},
	}
	if e.Timestamp != 0 {
		sent := time.UnixMilli(e.Timestamp).UTC()
		event.Payload.Sent = &sent
	}
	if e.User != nil {
		u := e.User.Model()
		event.Payload.User = &u
	}
	return event
}

// DBLog is a room's ordered event log, stored under a single key.
type DBLog struct {
	LastSeq int64     `msgpack:"lastSeq"`
	Events  []DBEvent `msgpack:"events"`
}

func (l *DBLog) MarshalBinary() (data []byte, err error) {
	type alias DBLog
	return msgpack.Marshal((*alias)(l))
}

func (l *DBLog) UnmarshalBinary(data []byte) error {
	type alias DBLog
	return msgpack.Unmarshal(data, (*alias)(l))
}
