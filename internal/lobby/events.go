package lobby

import (
	"context"
	"fmt"
	"parlor/internal/models"
	"parlor/internal/protocol"
	"parlor/internal/storage"
	"slices"
)

// HandleEvent decodes and applies a membership event pushed by a room.
// Unknown event types wrap protocol.ErrUnknownType.
func (l *Lobby) HandleEvent(ctx context.Context, raw []byte) error {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		return err
	}

	switch models.LobbyEventType(env.Type) {
	case models.LobbyEventJoin:
		var p protocol.JoinPayload
		if err := protocol.DecodePayload(env, &p); err != nil {
			return err
		}
		return l.Join(ctx, p.RoomID, *p.User)
	case models.LobbyEventLeave:
		var p protocol.LeavePayload
		if err := protocol.DecodePayload(env, &p); err != nil {
			return err
		}
		return l.Leave(ctx, p.RoomID, p.ID)
	case models.LobbyEventUpdate:
		var p protocol.UpdatePayload
		if err := protocol.DecodePayload(env, &p); err != nil {
			return err
		}
		return l.UpdateMembership(ctx, p.RoomID, p.Users)
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownType, env.Type)
	}
}

// Join adds user to the cached membership of the room. Adding a present user is a no-op.
func (l *Lobby) Join(ctx context.Context, roomID string, user models.User) error {
	return l.updateMembership(ctx, roomID, func(users []models.User) []models.User {
		if slices.ContainsFunc(users, func(u models.User) bool { return u.ID == user.ID }) {
			return users
		}
		return append(users, user)
	}, models.LobbyEvent{
		Type:    models.LobbyEventJoin,
		Payload: models.LobbyEventPayload{RoomID: roomID, User: &user},
	})
}

// Leave removes exactly the user with userID.
func (l *Lobby) Leave(ctx context.Context, roomID, userID string) error {
	return l.updateMembership(ctx, roomID, func(users []models.User) []models.User {
		return slices.DeleteFunc(users, func(u models.User) bool { return u.ID == userID })
	}, models.LobbyEvent{
		Type:    models.LobbyEventLeave,
		Payload: models.LobbyEventPayload{RoomID: roomID, ID: userID},
	})
}

// UpdateMembership replaces the cached membership.
func (l *Lobby) UpdateMembership(ctx context.Context, roomID string, users []models.User) error {
	deduped := models.DedupeUsers(users)
	return l.updateMembership(ctx, roomID, func([]models.User) []models.User {
		return deduped
	}, models.NewMembershipUpdate(roomID, deduped))
}

func (l *Lobby) updateMembership(ctx context.Context, roomID string, apply func([]models.User) []models.User, event any) error {
	return l.mailboxErr(ctx, func() error {
		dir, err := l.load(ctx)
		if err != nil {
			return err
		}
		rooms := dir.Rooms
		i := indexOf(rooms, roomID)
		if i < 0 {
			return fmt.Errorf("room %s: %w", roomID, models.ErrNotFound)
		}

		info := rooms[i].Model()
		before := slices.Clone(info.Users)
		after := apply(slices.Clone(info.Users))
		if slices.Equal(before, after) {
			return nil
		}

		info.Users = after
		rooms[i] = storage.NewDBRoom(info)
		if err := l.save(ctx, dir); err != nil {
			return err
		}

		if l.BroadcastMembership {
			l.hub.BroadcastJSON(event)
		}
		return nil
	})
}

func (l *Lobby) mailboxErr(ctx context.Context, fn func() error) error {
	var err error
	if doErr := l.mailbox.Do(ctx, func() { err = fn() }); doErr != nil {
		return doErr
	}
	return err
}
