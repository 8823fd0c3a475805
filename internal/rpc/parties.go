package rpc

import (
	"context"
	"net/http"
	"parlor/internal/models"
)

const (
	KindLobby = "lobby"
	KindRoom  = "room"
	KindUsers = "users"

	LobbyID = "main"
)

// LobbyClient is the room side of the room/lobby protocol.
type LobbyClient struct {
	client *Client
}

func NewLobbyClient(c *Client) *LobbyClient {
	return &LobbyClient{client: c}
}

func (l *LobbyClient) GetRoom(ctx context.Context, roomID string) (*models.RoomInfo, error) {
	var info models.RoomInfo
	err := l.client.Fetch(ctx, KindLobby, LobbyID, http.MethodPost, "/room", models.RoomRequest{RoomID: roomID}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// RemoveRoom deletes the directory entry and returns it.
func (l *LobbyClient) RemoveRoom(ctx context.Context, roomID string) (*models.RoomInfo, error) {
	var info models.RoomInfo
	err := l.client.Fetch(ctx, KindLobby, LobbyID, http.MethodDelete, "/room", models.RoomRequest{RoomID: roomID}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (l *LobbyClient) SendEvent(ctx context.Context, event any) error {
	return l.client.Fetch(ctx, KindLobby, LobbyID, http.MethodPost, "/events", event, nil)
}

func (l *LobbyClient) Join(ctx context.Context, roomID string, user models.User) error {
	return l.SendEvent(ctx, models.LobbyEvent{
		Type:    models.LobbyEventJoin,
		Payload: models.LobbyEventPayload{RoomID: roomID, User: &user},
	})
}

func (l *LobbyClient) UpdateMembership(ctx context.Context, roomID string, users []models.User) error {
	return l.SendEvent(ctx, models.NewMembershipUpdate(roomID, users))
}

// RoomClient is the lobby side of the room/lobby protocol.
type RoomClient struct {
	client *Client
}

func NewRoomClient(c *Client) *RoomClient {
	return &RoomClient{client: c}
}

func (r *RoomClient) Users(ctx context.Context, roomID string) ([]models.User, error) {
	var users []models.User
	if err := r.client.Fetch(ctx, KindRoom, roomID, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}
