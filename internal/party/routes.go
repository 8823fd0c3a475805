package party

import (
	"net/http"
	"parlor/internal/api"
	"parlor/internal/content"
	"parlor/internal/models"
)

// Handler returns the mux serving every party route.
func (reg *Registry) Handler() http.Handler {
	gate := reg.Gate
	mux := http.NewServeMux()

	// Lobby
	mux.HandleFunc("GET /parties/lobby/{id}/ws", gate.RequireUser(mainOnly(func(w http.ResponseWriter, r *http.Request) {
		reg.connect(w, r, "lobby", reg.Lobby)
	})))
	mux.HandleFunc("GET /parties/lobby/{id}/rooms", gate.RequireUser(mainOnly(reg.Lobby.ListRoomsHandler)))
	mux.HandleFunc("POST /parties/lobby/{id}/{$}", gate.RequireUser(mainOnly(reg.Lobby.CreateRoomHandler)))
	mux.HandleFunc("POST /parties/lobby/{id}/room", gate.RequireService(mainOnly(reg.Lobby.GetRoomHandler)))
	mux.HandleFunc("DELETE /parties/lobby/{id}/room", gate.RequireService(mainOnly(reg.Lobby.RemoveRoomHandler)))
	mux.HandleFunc("POST /parties/lobby/{id}/events", gate.RequireService(mainOnly(reg.Lobby.EventsHandler)))

	// Rooms
	mux.HandleFunc("GET /parties/room/{id}/ws", gate.RequireUser(reg.roomSocket))
	mux.HandleFunc("/parties/room/{id}", gate.RequireUserOrService(reg.roomHTTP))
	mux.HandleFunc("/parties/room/{id}/{rest...}", gate.RequireUserOrService(reg.roomHTTP))

	// Users
	mux.HandleFunc("GET /parties/users/{id}/ws", gate.RequireUser(mainOnly(func(w http.ResponseWriter, r *http.Request) {
		reg.connect(w, r, "users", reg.Users)
	})))
	mux.HandleFunc("GET /parties/users/{id}/{$}", gate.RequireUserOrService(mainOnly(reg.Users.ListHandler)))

	return api.Recover(api.LogRequests(mux))
}

// mainOnly answers 404 for singleton parties addressed by any id but main.
func mainOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != mainID {
			api.WriteError(w, models.ErrNotFound)
			return
		}
		next(w, r)
	}
}

func (reg *Registry) roomSocket(w http.ResponseWriter, r *http.Request) {
	rm, err := reg.Room(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	reg.connect(w, r, "room", rm)
}

func (reg *Registry) roomHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !content.ValidRoomID(id) {
		api.WriteError(w, models.ErrNotFound)
		return
	}

	rm, err := reg.loaded(id)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	// A room that is not loaded has nobody connected; answer membership
	// reads without starting an actor.
	if rm == nil && r.Method == http.MethodGet && r.PathValue("rest") == "users" {
		api.WriteJSON(w, http.StatusOK, []models.User{})
		return
	}
	if rm == nil {
		if rm, err = reg.Room(r.Context(), id); err != nil {
			api.WriteError(w, err)
			return
		}
	}
	http.StripPrefix("/parties/room/"+id, rm).ServeHTTP(w, r)
}
