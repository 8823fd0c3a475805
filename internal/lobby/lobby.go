// Package lobby implements the directory actor: which rooms exist, who created
// them and who was last reported in them.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"parlor/internal/actor"
	"parlor/internal/metrics"
	"parlor/internal/models"
	"parlor/internal/storage"
	"parlor/internal/ws"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	roomsKey = "rooms"

	idLength      = 5
	maxIDAttempts = 32
	listFanOut    = 8
)

var ErrIDExhausted = errors.New("could not generate a unique room id")

// RoomAPI is what the lobby needs from rooms.
type RoomAPI interface {
	Users(ctx context.Context, roomID string) ([]models.User, error)
}

type Config struct {
	Store storage.Store
	Rooms RoomAPI
	// LiveMembership makes ListRooms ask every room for its connected users.
	LiveMembership bool
	// BroadcastMembership rebroadcasts membership changes to lobby sockets.
	BroadcastMembership bool
}

type Lobby struct {
	Config
	mailbox *actor.Mailbox
	hub     *ws.Hub
	ctx     context.Context
	logger  *slog.Logger
	newID   func() string
}

func New(ctx context.Context, config Config) *Lobby {
	return &Lobby{
		Config:  config,
		mailbox: actor.New("lobby/main", 0),
		hub:     ws.NewHub("lobby"),
		ctx:     ctx,
		logger:  slog.With("component", "lobby"),
		newID:   NewRoomID,
	}
}

func (l *Lobby) Run() {
	l.mailbox.Run(l.ctx)
}

func (l *Lobby) Shutdown() {
	l.hub.CloseAll()
	l.mailbox.Stop()
}

// NewRoomID derives a 5 character id from a random UUID.
func NewRoomID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:idLength]
}

// uniqueID retries until the id is neither in use nor retired. The race window
// between the directory snapshot and the write is closed by the mailbox.
func (l *Lobby) uniqueID(dir storage.DBDirectory) (string, error) {
	for range maxIDAttempts {
		id := l.newID()
		if indexOf(dir.Rooms, id) < 0 && !slices.Contains(dir.Closed, id) {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}

// load and save are mailbox only.
func (l *Lobby) load(ctx context.Context) (storage.DBDirectory, error) {
	var dir storage.DBDirectory
	if _, err := storage.Load(ctx, l.Store, roomsKey, &dir); err != nil {
		return storage.DBDirectory{}, fmt.Errorf("failed to load directory: %w", err)
	}
	return dir, nil
}

func (l *Lobby) save(ctx context.Context, dir storage.DBDirectory) error {
	if err := storage.Save(ctx, l.Store, roomsKey, &dir); err != nil {
		return fmt.Errorf("failed to save directory: %w", err)
	}
	return nil
}

func (l *Lobby) CreateRoom(ctx context.Context, user models.User) (models.RoomInfo, error) {
	info, err := actor.Call(ctx, l.mailbox, func() (models.RoomInfo, error) {
		dir, err := l.load(ctx)
		if err != nil {
			return models.RoomInfo{}, err
		}

		id, err := l.uniqueID(dir)
		if err != nil {
			return models.RoomInfo{}, err
		}

		info := models.RoomInfo{ID: id, CreatedBy: user, Users: []models.User{}}
		dir.Rooms = append(dir.Rooms, storage.NewDBRoom(info))
		if err := l.save(ctx, dir); err != nil {
			return models.RoomInfo{}, err
		}

		l.hub.BroadcastJSON(models.LobbyEvent{
			Type:    models.LobbyEventCreate,
			Payload: models.LobbyEventPayload{Room: &info},
		})
		return info, nil
	})
	if err != nil {
		return models.RoomInfo{}, err
	}

	metrics.RoomsCreatedTotal.Inc()
	l.logger.Info("room created", "room_id", info.ID, "user_id", user.ID)
	return info, nil
}

// ListRooms never fails because of a room: an unreachable room is listed
// with its cached users and Live=false.
func (l *Lobby) ListRooms(ctx context.Context) ([]models.ListedRoom, error) {
	rooms, err := actor.Call(ctx, l.mailbox, func() ([]storage.DBRoom, error) {
		dir, err := l.load(ctx)
		return dir.Rooms, err
	})
	if err != nil {
		return nil, err
	}

	listed := make([]models.ListedRoom, len(rooms))
	for i, r := range rooms {
		listed[i] = models.ListedRoom{RoomInfo: r.Model()}
	}
	if !l.LiveMembership || l.Rooms == nil {
		return listed, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(listFanOut)
	for i := range listed {
		g.Go(func() error {
			users, err := l.Rooms.Users(gCtx, listed[i].ID)
			if err != nil {
				l.logger.Debug("live membership unavailable", "room_id", listed[i].ID, "error", err)
				return nil
			}
			listed[i].Users = models.DedupeUsers(users)
			listed[i].Live = true
			return nil
		})
	}
	_ = g.Wait()

	return listed, nil
}

func (l *Lobby) GetRoom(ctx context.Context, id string) (models.RoomInfo, error) {
	return actor.Call(ctx, l.mailbox, func() (models.RoomInfo, error) {
		dir, err := l.load(ctx)
		if err != nil {
			return models.RoomInfo{}, err
		}
		i := indexOf(dir.Rooms, id)
		if i < 0 {
			return models.RoomInfo{}, fmt.Errorf("room %s: %w", id, models.ErrNotFound)
		}
		return dir.Rooms[i].Model(), nil
	})
}

func (l *Lobby) RemoveRoom(ctx context.Context, id string) (models.RoomInfo, error) {
	removed, err := actor.Call(ctx, l.mailbox, func() (models.RoomInfo, error) {
		dir, err := l.load(ctx)
		if err != nil {
			return models.RoomInfo{}, err
		}
		i := indexOf(dir.Rooms, id)
		if i < 0 {
			return models.RoomInfo{}, fmt.Errorf("room %s: %w", id, models.ErrNotFound)
		}

		removed := dir.Rooms[i].Model()
		dir.Rooms = slices.Delete(dir.Rooms, i, i+1)
		dir.Closed = append(dir.Closed, id)
		if err := l.save(ctx, dir); err != nil {
			return models.RoomInfo{}, err
		}

		l.hub.BroadcastJSON(models.LobbyEvent{
			Type:    models.LobbyEventClose,
			Payload: models.LobbyEventPayload{RoomID: id},
		})
		return removed, nil
	})
	if err != nil {
		return models.RoomInfo{}, err
	}

	l.logger.Info("room removed", "room_id", id)
	return removed, nil
}

func indexOf(rooms []storage.DBRoom, id string) int {
	return slices.IndexFunc(rooms, func(r storage.DBRoom) bool { return r.ID == id })
}
