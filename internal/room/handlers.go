package room

import (
	"net/http"
	"parlor/internal/api"
	"parlor/internal/auth"
	"parlor/internal/models"
	"parlor/internal/protocol"
	"strconv"
)

// ServeHTTP serves the room's HTTP surface. Paths are relative to the party root.
func (r *Room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "", "/":
		switch req.Method {
		case http.MethodGet:
			r.snapshotHandler(w, req)
		case http.MethodPost:
			r.postMessageHandler(w, req)
		default:
			api.MethodNotAllowed(w)
		}
	case "/users":
		if req.Method != http.MethodGet {
			api.MethodNotAllowed(w)
			return
		}
		r.usersHandler(w, req)
	default:
		api.WriteError(w, models.ErrNotFound)
	}
}

func (r *Room) snapshotHandler(w http.ResponseWriter, req *http.Request) {
	var since int64
	if v := req.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			api.WriteError(w, models.ErrInvalidPayload)
			return
		}
		since = parsed
	}

	snapshot, err := r.Snapshot(req.Context(), since)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, snapshot)
}

func (r *Room) usersHandler(w http.ResponseWriter, req *http.Request) {
	users, err := r.Users(req.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, users)
}

func (r *Room) postMessageHandler(w http.ResponseWriter, req *http.Request) {
	var body models.PostMessageRequest
	if err := api.DecodeJSON(req, &body); err != nil {
		api.WriteError(w, err)
		return
	}

	var user models.User
	switch {
	case auth.IsService(req.Context()):
		if body.User == nil {
			api.WriteError(w, models.ErrInvalidPayload)
			return
		}
		if err := protocol.Validate(body.User); err != nil {
			api.WriteError(w, err)
			return
		}
		user = *body.User
	default:
		u, ok := auth.UserFromContext(req.Context())
		if !ok {
			api.WriteError(w, models.ErrUnauthorized)
			return
		}
		user = *u
	}

	event, err := r.PostMessage(req.Context(), user, body.Message, "http")
	if err != nil {
		api.WriteError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, models.PostMessageResponse{
		Success: true,
		Event:   event,
	})
}
