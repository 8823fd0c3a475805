// Package room implements the actor that owns one chat room: its sockets,
// its event log and its side of the room/lobby protocol.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"parlor/internal/actor"
	"parlor/internal/content"
	"parlor/internal/eventlog"
	"parlor/internal/metrics"
	"parlor/internal/models"
	"parlor/internal/presence"
	"parlor/internal/protocol"
	"parlor/internal/session"
	"parlor/internal/storage"
	"parlor/internal/ws"
	"time"
)

const DefaultCloseGrace = 1500 * time.Millisecond

type State int

const (
	StateUninitialized State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// LobbyAPI is what a room needs from the lobby.
type LobbyAPI interface {
	GetRoom(ctx context.Context, roomID string) (*models.RoomInfo, error)
	RemoveRoom(ctx context.Context, roomID string) (*models.RoomInfo, error)
	Join(ctx context.Context, roomID string, user models.User) error
	UpdateMembership(ctx context.Context, roomID string, users []models.User) error
}

type Config struct {
	ID           string
	Store        storage.Store
	Lobby        LobbyAPI
	CloseGrace   time.Duration
	HistoryLimit int
	// OnClosed runs once the room reached StateClosed and its sockets were closed.
	OnClosed func(id string)
	// OnIdle runs when the room had no socket and no request for IdleTimeout.
	// A zero IdleTimeout never fires it.
	IdleTimeout time.Duration
	OnIdle      func(id string)
}

type Room struct {
	id         string
	mailbox    *actor.Mailbox
	hub        *ws.Hub
	log        *eventlog.Log
	lobby      LobbyAPI
	closeGrace time.Duration
	onClosed    func(id string)
	idleTimeout time.Duration
	onIdle      func(id string)
	pushes      *pushQueue
	ctx         context.Context
	logger      *slog.Logger

	// Owned by the mailbox.
	state      State
	info       *models.RoomInfo
	closeTimer *time.Timer
	idleTimer  *time.Timer
}

// New builds a room bound to ctx. Call Run to start its mailbox.
func New(ctx context.Context, config Config) *Room {
	if config.CloseGrace <= 0 {
		config.CloseGrace = DefaultCloseGrace
	}

	r := &Room{
		id:          config.ID,
		mailbox:     actor.New("room/"+config.ID, 0),
		hub:         ws.NewHub("room"),
		lobby:       config.Lobby,
		closeGrace:  config.CloseGrace,
		onClosed:    config.OnClosed,
		idleTimeout: config.IdleTimeout,
		onIdle:      config.OnIdle,
		pushes:      newPushQueue(),
		ctx:         ctx,
		logger:      slog.With("component", "room", "room_id", config.ID),
	}
	r.log = eventlog.New(eventlog.Config{
		RoomID:         config.ID,
		Store:          config.Store,
		MaxRecords:     config.HistoryLimit,
		RecordCallback: r.broadcastEvent,
	})
	r.mailbox.Post(r.touch)
	return r
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) Run() {
	go r.deliverPushes()
	r.mailbox.Run(r.ctx)
}

// State is read through the mailbox.
func (r *Room) State(ctx context.Context) (State, error) {
	return actor.Call(ctx, r.mailbox, func() (State, error) {
		return r.state, nil
	})
}

// broadcastEvent runs inside the mailbox step that appended the event.
func (r *Room) broadcastEvent(event models.ChatEvent) {
	r.hub.BroadcastJSON(event)
}

func (r *Room) broadcastPresence() []models.User {
	return presence.Broadcast(r.hub.Connections())
}

// OnConnect registers an authenticated socket. It returns ErrRoomClosed
// when the room is closing or closed; the caller must then drop the socket.
func (r *Room) OnConnect(ctx context.Context, conn *ws.Connection, user models.User) error {
	info, err := r.lobby.GetRoom(ctx, r.id)
	if err != nil {
		r.logger.Warn("room info unavailable, running without it", "error", err)
		info = nil
	}

	accepted, err := actor.Call(ctx, r.mailbox, func() (bool, error) {
		if r.state == StateClosing || r.state == StateClosed {
			return false, nil
		}

		session.Merge(conn, session.Patch{User: &user, Room: info})
		if info != nil {
			r.info = info
		}
		r.hub.Add(conn)
		r.touch()
		if r.state == StateUninitialized {
			r.state = StateActive
		}

		r.hub.BroadcastJSON(models.ChatEvent{
			Type:    models.ChatEventJoin,
			Payload: models.ChatEventPayload{User: &user},
		})
		r.broadcastPresence()
		r.pushes.join(user)
		return true, nil
	})
	if err != nil {
		return err
	}
	if !accepted {
		return models.ErrRoomClosed
	}

	r.logger.Debug("user connected", "user_id", user.ID, "conn_id", conn.ID())
	return nil
}

func (r *Room) OnMessage(conn *ws.Connection, data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		r.logger.Debug("dropping invalid socket message", "conn_id", conn.ID(), "error", err)
		return
	}

	sess := session.Get(conn)
	switch models.ChatEventType(env.Type) {
	case models.ChatEventMessage:
		var payload protocol.MessagePayload
		if err := protocol.DecodePayload(env, &payload); err != nil {
			r.logger.Debug("dropping invalid message payload", "conn_id", conn.ID(), "error", err)
			return
		}
		if sess.User == nil {
			return
		}
		if _, err := r.PostMessage(r.ctx, *sess.User, payload.Message, "socket"); err != nil {
			r.logger.Debug("socket message rejected", "conn_id", conn.ID(), "error", err)
		}

	case models.ChatEventClear:
		if !sess.Room.IsAdmin(sess.User) {
			r.logger.Debug("ignoring clear from non-admin", "conn_id", conn.ID())
			return
		}
		if err := r.Clear(r.ctx); err != nil {
			r.logger.Error("failed to clear room", "error", err)
		}

	case models.ChatEventClose:
		if !sess.Room.IsAdmin(sess.User) {
			r.logger.Debug("ignoring close from non-admin", "conn_id", conn.ID())
			return
		}
		if err := r.Close(r.ctx); err != nil {
			r.logger.Error("failed to close room", "error", err)
		}
	}
}

func (r *Room) OnClose(conn *ws.Connection) {
	r.disconnect(conn)
}

func (r *Room) OnError(conn *ws.Connection, err error) {
	r.logger.Debug("socket error", "conn_id", conn.ID(), "error", err)
	r.disconnect(conn)
}

func (r *Room) disconnect(conn *ws.Connection) {
	err := r.mailbox.Do(r.ctx, func() {
		if !r.hub.Remove(conn) {
			return
		}
		r.touch()

		sess := session.Get(conn)
		if sess.User != nil && !r.connected(sess.User.ID) {
			r.hub.BroadcastJSON(models.ChatEvent{
				Type:    models.ChatEventLeave,
				Payload: models.ChatEventPayload{UserID: sess.User.ID},
			})
		}
		users := r.broadcastPresence()
		if r.state == StateActive {
			r.pushes.update(users)
		}
	})
	if err != nil && !errors.Is(err, actor.ErrStopped) {
		r.logger.Error("failed to unregister socket", "error", err)
	}
}

// touch restarts the idle countdown while no socket is connected. Mailbox only.
func (r *Room) touch() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	if r.idleTimeout <= 0 || r.onIdle == nil || r.hub.Len() > 0 {
		return
	}
	if r.state == StateClosing || r.state == StateClosed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(r.idleTimeout, func() {
		r.mailbox.Post(func() {
			if r.idleTimer != timer || r.hub.Len() > 0 {
				return
			}
			r.idleTimer = nil
			r.logger.Debug("room idle")
			go r.onIdle(r.id)
		})
	})
	r.idleTimer = timer
}

// connected reports whether any registered socket belongs to userID. Mailbox only.
func (r *Room) connected(userID string) bool {
	for _, c := range r.hub.Connections() {
		if s := session.Get(c); s.User != nil && s.User.ID == userID {
			return true
		}
	}
	return false
}

// PostMessage appends a message to the log and broadcasts it in the same step.
func (r *Room) PostMessage(ctx context.Context, user models.User, text, origin string) (models.ChatEvent, error) {
	text, err := content.Message(text)
	if err != nil {
		return models.ChatEvent{}, fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}

	event, err := actor.Call(ctx, r.mailbox, func() (models.ChatEvent, error) {
		if r.state == StateClosing || r.state == StateClosed {
			return models.ChatEvent{}, models.ErrRoomClosed
		}
		r.touch()
		return r.log.Append(ctx, models.ChatEvent{
			Type: models.ChatEventMessage,
			Payload: models.ChatEventPayload{
				User:    &user,
				Message: text,
			},
		})
	})
	if err != nil {
		return models.ChatEvent{}, err
	}

	metrics.RoomEventsTotal.WithLabelValues(string(models.ChatEventMessage), origin).Inc()
	return event, nil
}

// Clear drops the history and broadcasts a clear event. Callers check admin rights.
func (r *Room) Clear(ctx context.Context) error {
	_, err := actor.Call(ctx, r.mailbox, func() (models.ChatEvent, error) {
		if r.state == StateClosing || r.state == StateClosed {
			return models.ChatEvent{}, models.ErrRoomClosed
		}
		return r.log.Clear(ctx)
	})
	if err == nil {
		metrics.RoomEventsTotal.WithLabelValues(string(models.ChatEventClear), "socket").Inc()
	}
	return err
}

// Close removes the room from the lobby, deletes its log and tells clients.
// Callers check admin rights. A second Close while closing is a no-op.
func (r *Room) Close(ctx context.Context) error {
	start, err := actor.Call(ctx, r.mailbox, func() (bool, error) {
		if r.state == StateClosing || r.state == StateClosed {
			return false, nil
		}
		r.state = StateClosing
		r.touch()
		return true, nil
	})
	if err != nil || !start {
		return err
	}

	if _, err := r.lobby.RemoveRoom(ctx, r.id); err != nil && !errors.Is(err, models.ErrNotFound) {
		_ = r.mailbox.Do(ctx, func() {
			if r.state == StateClosing {
				r.state = StateActive
			}
		})
		return fmt.Errorf("failed to remove room from lobby: %w", err)
	}

	return r.mailbox.Do(ctx, func() {
		if err := r.log.Delete(ctx); err != nil {
			r.logger.Error("failed to delete room log", "error", err)
		}
		r.hub.BroadcastJSON(models.ChatEvent{
			Type:    models.ChatEventClose,
			Payload: models.ChatEventPayload{Admin: true},
		})
		r.closeTimer = time.AfterFunc(r.closeGrace, func() {
			r.mailbox.Post(r.finishClose)
		})
		metrics.RoomsClosedTotal.Inc()
		r.logger.Info("room closing")
	})
}

// finishClose runs on the mailbox after the grace period.
func (r *Room) finishClose() {
	if r.state != StateClosing {
		return
	}
	r.hub.BroadcastJSON(models.ChatEvent{Type: models.ChatEventClose})
	r.state = StateClosed
	r.closeTimer = nil
	r.hub.CloseAll()
	r.logger.Info("room closed")

	if r.onClosed != nil {
		go r.onClosed(r.id)
	}
}

// Users returns the distinct connected users.
func (r *Room) Users(ctx context.Context) ([]models.User, error) {
	return actor.Call(ctx, r.mailbox, func() ([]models.User, error) {
		return presence.Users(r.hub.Connections()), nil
	})
}

// Snapshot returns the lobby's directory entry and the message history after seq since.
// The entry is fetched fresh; the last one seen stands in while the lobby is unreachable.
func (r *Room) Snapshot(ctx context.Context, since int64) (models.RoomSnapshot, error) {
	info, err := r.lobby.GetRoom(ctx, r.id)
	fresh := true
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotFound):
		info = nil
	case errors.Is(err, models.ErrUpstreamUnavailable):
		r.logger.Warn("room info unavailable, serving last known", "error", err)
		fresh = false
	default:
		return models.RoomSnapshot{}, err
	}

	return actor.Call(ctx, r.mailbox, func() (models.RoomSnapshot, error) {
		if fresh {
			r.info = info
		}
		r.touch()
		messages, err := r.log.History(ctx, since)
		if err != nil {
			return models.RoomSnapshot{}, err
		}
		return models.RoomSnapshot{Info: r.info, Messages: messages}, nil
	})
}

// Shutdown cancels a pending close broadcast, closes all sockets and stops the mailbox.
func (r *Room) Shutdown() {
	_ = r.mailbox.Do(context.Background(), func() {
		if r.closeTimer != nil {
			r.closeTimer.Stop()
			r.closeTimer = nil
		}
		if r.idleTimer != nil {
			r.idleTimer.Stop()
			r.idleTimer = nil
		}
		r.hub.CloseAll()
	})
	r.mailbox.Stop()
}
