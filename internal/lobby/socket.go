package lobby

import (
	"context"
	"errors"
	"parlor/internal/actor"
	"parlor/internal/models"
	"parlor/internal/presence"
	"parlor/internal/protocol"
	"parlor/internal/session"
	"parlor/internal/ws"
)

// roomReply answers a socket room lookup; Room is null when unknown.
type roomReply struct {
	Type    models.LobbyEventType `json:"type"`
	Payload struct {
		Room *models.RoomInfo `json:"room"`
	} `json:"payload"`
}

func (l *Lobby) OnConnect(ctx context.Context, conn *ws.Connection, user models.User) error {
	return l.mailbox.Do(ctx, func() {
		session.Merge(conn, session.Patch{User: &user})
		l.hub.Add(conn)
		presence.Broadcast(l.hub.Connections())
	})
}

func (l *Lobby) OnMessage(conn *ws.Connection, data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		l.logger.Debug("dropping invalid socket message", "conn_id", conn.ID(), "error", err)
		return
	}

	switch models.LobbyEventType(env.Type) {
	case models.LobbyEventClose:
		var p protocol.RoomIDPayload
		if err := protocol.DecodePayload(env, &p); err != nil {
			return
		}
		_ = l.mailbox.Do(l.ctx, func() {
			l.hub.BroadcastJSON(models.LobbyEvent{
				Type:    models.LobbyEventClose,
				Payload: models.LobbyEventPayload{RoomID: p.RoomID},
			})
		})

	case models.LobbyEventRoom:
		var p protocol.RoomIDPayload
		if err := protocol.DecodePayload(env, &p); err != nil {
			return
		}
		reply := roomReply{Type: models.LobbyEventRoom}
		info, err := l.GetRoom(l.ctx, p.RoomID)
		switch {
		case err == nil:
			reply.Payload.Room = &info
		case !errors.Is(err, models.ErrNotFound):
			l.logger.Error("room lookup failed", "room_id", p.RoomID, "error", err)
			return
		}
		conn.SendJSON(reply)
	}
}

func (l *Lobby) OnClose(conn *ws.Connection) {
	l.disconnect(conn)
}

func (l *Lobby) OnError(conn *ws.Connection, err error) {
	l.logger.Debug("socket error", "conn_id", conn.ID(), "error", err)
	l.disconnect(conn)
}

func (l *Lobby) disconnect(conn *ws.Connection) {
	err := l.mailbox.Do(l.ctx, func() {
		if l.hub.Remove(conn) {
			presence.Broadcast(l.hub.Connections())
		}
	})
	if err != nil && !errors.Is(err, actor.ErrStopped) {
		l.logger.Error("failed to unregister socket", "error", err)
	}
}
