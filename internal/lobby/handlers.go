package lobby

import (
	"encoding/json"
	"errors"
	"net/http"
	"parlor/internal/api"
	"parlor/internal/auth"
	"parlor/internal/models"
	"parlor/internal/protocol"
)

// ListRoomsHandler serves GET /rooms.
func (l *Lobby) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := l.ListRooms(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, rooms)
}

// CreateRoomHandler serves POST / and answers with the create event that was broadcast.
func (l *Lobby) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		api.WriteError(w, models.ErrUnauthorized)
		return
	}

	info, err := l.CreateRoom(r.Context(), *user)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, models.LobbyEvent{
		Type:    models.LobbyEventCreate,
		Payload: models.LobbyEventPayload{Room: &info},
	})
}

func decodeRoomRequest(r *http.Request) (string, error) {
	var req protocol.RoomIDPayload
	if err := api.DecodeJSON(r, &req); err != nil {
		return "", err
	}
	if err := protocol.Validate(&req); err != nil {
		return "", err
	}
	return req.RoomID, nil
}

// GetRoomHandler serves POST /room for services.
func (l *Lobby) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	id, err := decodeRoomRequest(r)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	info, err := l.GetRoom(r.Context(), id)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, info)
}

// RemoveRoomHandler serves DELETE /room for services.
func (l *Lobby) RemoveRoomHandler(w http.ResponseWriter, r *http.Request) {
	id, err := decodeRoomRequest(r)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	removed, err := l.RemoveRoom(r.Context(), id)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, removed)
}

// EventsHandler serves POST /events, the inbound membership channel of rooms.
func (l *Lobby) EventsHandler(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := api.DecodeJSON(r, &raw); err != nil {
		api.WriteError(w, err)
		return
	}

	if err := l.HandleEvent(r.Context(), raw); err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			err = errors.Join(models.ErrInvalidPayload, err)
		}
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, models.APIResponse{Success: true})
}
