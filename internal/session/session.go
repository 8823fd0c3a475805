// Package session keeps the per-connection identity record attached to a socket.
package session

import (
	"log/slog"
	"parlor/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

// Holder stores an opaque encoded state value, typically a websocket connection.
type Holder interface {
	State() []byte
	SetState(data []byte)
}

type Session struct {
	User *models.User     `msgpack:"user,omitempty"`
	Room *models.RoomInfo `msgpack:"room,omitempty"`
}

// Patch is a partial update. Nil fields are left untouched unless the matching Clear flag is set.
type Patch struct {
	User      *models.User
	Room      *models.RoomInfo
	ClearUser bool
	ClearRoom bool
}

// Get decodes the session. Undecodable state is reset and an empty session returned.
func Get(h Holder) Session {
	data := h.State()
	if len(data) == 0 {
		return Session{}
	}

	var s Session
	if err := msgpack.Unmarshal(data, &s); err != nil {
		slog.Debug("resetting undecodable session state", "error", err)
		h.SetState(nil)
		return Session{}
	}
	return s
}

func Set(h Holder, s Session) {
	data, err := msgpack.Marshal(&s)
	if err != nil {
		slog.Error("failed to encode session", "error", err)
		h.SetState(nil)
		return
	}
	h.SetState(data)
}

func Merge(h Holder, p Patch) Session {
	return Update(h, func(s Session) Session {
		switch {
		case p.ClearUser:
			s.User = nil
		case p.User != nil:
			u := *p.User
			s.User = &u
		}
		switch {
		case p.ClearRoom:
			s.Room = nil
		case p.Room != nil:
			r := *p.Room
			s.Room = &r
		}
		return s
	})
}

// Update replaces the session with fn(previous) and returns the new value.
func Update(h Holder, fn func(Session) Session) Session {
	next := fn(Get(h))
	Set(h, next)
	return next
}
