// Package party routes /parties/{kind}/{id}/... to actor instances and hosts
// their websocket connections.
package party

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"parlor/internal/api"
	"parlor/internal/auth"
	"parlor/internal/content"
	"parlor/internal/lobby"
	"parlor/internal/metrics"
	"parlor/internal/models"
	"parlor/internal/room"
	"parlor/internal/storage"
	"parlor/internal/users"
	"parlor/internal/ws"
	"sync"
	"time"
)

const mainID = "main"

// Handler is a party that accepts websocket connections.
type Handler interface {
	ws.Handler
	OnConnect(ctx context.Context, conn *ws.Connection, user models.User) error
}

type Config struct {
	Gate         *auth.Gate
	Backend      storage.Backend
	Lobby        *lobby.Lobby
	Users        *users.Users
	LobbyClient  room.LobbyAPI
	CloseGrace   time.Duration
	HistoryLimit int
	// IdleTimeout unloads rooms nobody has been connected to for this long.
	// Zero keeps them loaded until closed.
	IdleTimeout time.Duration
}

// Registry hands out one room actor per directory entry, created on first
// use and evicted once the room is closed or idle.
type Registry struct {
	Config
	ctx    context.Context
	server *ws.Server
	logger *slog.Logger

	mu     sync.Mutex
	rooms  map[string]*room.Room
	closed map[string]struct{}
}

func NewRegistry(ctx context.Context, config Config) *Registry {
	return &Registry{
		Config: config,
		ctx:    ctx,
		server: ws.NewServer(),
		logger: slog.With("component", "registry"),
		rooms:  make(map[string]*room.Room),
		closed: make(map[string]struct{}),
	}
}

// loaded returns the running actor for id, or nil when none is loaded.
func (reg *Registry) loaded(id string) (*room.Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.closed[id]; ok {
		return nil, models.ErrRoomClosed
	}
	return reg.rooms[id], nil
}

// Room returns the actor for id, starting it if the lobby knows the room.
// While the lobby is unreachable unknown ids are let through.
func (reg *Registry) Room(ctx context.Context, id string) (*room.Room, error) {
	if !content.ValidRoomID(id) {
		return nil, models.ErrNotFound
	}

	r, err := reg.loaded(id)
	if err != nil || r != nil {
		return r, err
	}

	if _, err := reg.LobbyClient.GetRoom(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		reg.logger.Warn("lobby unavailable, loading room unchecked", "room_id", id, "error", err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.closed[id]; ok {
		return nil, models.ErrRoomClosed
	}
	if r, ok := reg.rooms[id]; ok {
		return r, nil
	}

	r = room.New(reg.ctx, room.Config{
		ID:           id,
		Store:        reg.Backend.Namespace("room/" + id),
		Lobby:        reg.LobbyClient,
		CloseGrace:   reg.CloseGrace,
		HistoryLimit: reg.HistoryLimit,
		IdleTimeout:  reg.IdleTimeout,
		OnClosed:     reg.evict,
		OnIdle:       func(string) { reg.unload(r) },
	})
	reg.rooms[id] = r
	go r.Run()

	metrics.ActiveRooms.Inc()
	reg.logger.Debug("room loaded", "room_id", id)
	return r, nil
}

// unload stops an idle room without tombstoning it; the next request loads
// it again.
func (reg *Registry) unload(r *room.Room) {
	reg.mu.Lock()
	current, ok := reg.rooms[r.ID()]
	if !ok || current != r {
		reg.mu.Unlock()
		return
	}
	delete(reg.rooms, r.ID())
	reg.mu.Unlock()

	r.Shutdown()
	metrics.ActiveRooms.Dec()
	reg.logger.Debug("room unloaded", "room_id", r.ID())
}

func (reg *Registry) evict(id string) {
	reg.mu.Lock()
	r, ok := reg.rooms[id]
	delete(reg.rooms, id)
	reg.closed[id] = struct{}{}
	reg.mu.Unlock()

	if ok {
		r.Shutdown()
		metrics.ActiveRooms.Dec()
		reg.logger.Debug("room evicted", "room_id", id)
	}
}

// Shutdown closes every socket and stops every actor.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	rooms := make([]*room.Room, 0, len(reg.rooms))
	for id, r := range reg.rooms {
		rooms = append(rooms, r)
		delete(reg.rooms, id)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		r.Shutdown()
		metrics.ActiveRooms.Dec()
	}
	reg.Lobby.Shutdown()
	reg.Users.Shutdown()
}

// connect upgrades an authenticated request and runs the socket until it closes.
func (reg *Registry) connect(w http.ResponseWriter, r *http.Request, kind string, p Handler) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		api.WriteError(w, models.ErrUnauthorized)
		return
	}

	conn, err := reg.server.Upgrade(w, r)
	if err != nil {
		reg.logger.Debug("websocket upgrade failed", "kind", kind, "error", err)
		return
	}

	if err := p.OnConnect(r.Context(), conn, *user); err != nil {
		reason := "connection refused"
		if errors.Is(err, models.ErrRoomClosed) {
			reason = "room closed"
		}
		reg.logger.Debug("connection refused", "kind", kind, "user_id", user.ID, "error", err)
		conn.Reject(reason)
		return
	}

	conn.Handle(reg.ctx, p)
}
