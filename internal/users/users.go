// Package users implements the global presence party.
package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"parlor/internal/actor"
	"parlor/internal/api"
	"parlor/internal/models"
	"parlor/internal/presence"
	"parlor/internal/session"
	"parlor/internal/ws"
)

type Users struct {
	mailbox *actor.Mailbox
	hub     *ws.Hub
	ctx     context.Context
	logger  *slog.Logger
}

func New(ctx context.Context) *Users {
	return &Users{
		mailbox: actor.New("users/main", 0),
		hub:     ws.NewHub("users"),
		ctx:     ctx,
		logger:  slog.With("component", "users"),
	}
}

func (u *Users) Run() {
	u.mailbox.Run(u.ctx)
}

func (u *Users) Shutdown() {
	u.hub.CloseAll()
	u.mailbox.Stop()
}

func (u *Users) OnConnect(ctx context.Context, conn *ws.Connection, user models.User) error {
	return u.mailbox.Do(ctx, func() {
		session.Merge(conn, session.Patch{User: &user})
		u.hub.Add(conn)
		presence.Broadcast(u.hub.Connections())
	})
}

// OnMessage relays the raw frame to every other socket.
func (u *Users) OnMessage(conn *ws.Connection, data []byte) {
	_ = u.mailbox.Do(u.ctx, func() {
		u.hub.Broadcast(data, conn.ID())
	})
}

func (u *Users) OnClose(conn *ws.Connection) {
	u.disconnect(conn)
}

func (u *Users) OnError(conn *ws.Connection, err error) {
	u.logger.Debug("socket error", "conn_id", conn.ID(), "error", err)
	u.disconnect(conn)
}

func (u *Users) disconnect(conn *ws.Connection) {
	err := u.mailbox.Do(u.ctx, func() {
		if u.hub.Remove(conn) {
			presence.Broadcast(u.hub.Connections())
		}
	})
	if err != nil && !errors.Is(err, actor.ErrStopped) {
		u.logger.Error("failed to unregister socket", "error", err)
	}
}

func (u *Users) List(ctx context.Context) ([]models.User, error) {
	return actor.Call(ctx, u.mailbox, func() ([]models.User, error) {
		return presence.Users(u.hub.Connections()), nil
	})
}

// ListHandler serves GET /.
func (u *Users) ListHandler(w http.ResponseWriter, r *http.Request) {
	users, err := u.List(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, users)
}
