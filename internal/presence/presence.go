// Package presence computes and pushes the set of users connected to a party.
package presence

import (
	"encoding/json"
	"log/slog"
	"parlor/internal/models"
	"parlor/internal/session"
)

// Socket is a connection that carries a session and accepts outbound frames.
type Socket interface {
	session.Holder
	Send(data []byte) bool
}

// Users returns the distinct session users of conns in connection order.
// A later connection of the same user overwrites the display fields.
func Users[S session.Holder](conns []S) []models.User {
	users := make([]models.User, 0, len(conns))
	for _, c := range conns {
		if s := session.Get(c); s.User != nil {
			users = append(users, *s.User)
		}
	}
	return models.DedupeUsers(users)
}

// Broadcast sends one presence snapshot to every socket and returns the users it contained.
func Broadcast[S Socket](sockets []S) []models.User {
	users := Users(sockets)
	data, err := Encode(users)
	if err != nil {
		slog.Error("failed to encode presence", "error", err)
		return users
	}
	for _, s := range sockets {
		s.Send(data)
	}
	return users
}

// Encode renders a presence event. Room and lobby presence share the same wire shape.
func Encode(users []models.User) ([]byte, error) {
	return json.Marshal(models.NewPresenceEvent(users))
}
