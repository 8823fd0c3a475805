package ws

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

const maxMessageSize = 64 << 10

type Server struct {
	upgrader *websocket.Upgrader
}

func NewServer() *Server {
	return &Server{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // clients authenticate with a token, not cookies
			},
		},
	}
}

// Upgrade switches the request to a websocket. On failure the upgrader has
// already written an HTTP error.
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("error upgrading to websocket: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	return NewConnection(conn), nil
}
