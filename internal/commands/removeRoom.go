package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"parlor/internal/config"
	"parlor/internal/content"
	"parlor/internal/models"
	"parlor/internal/rpc"
)

// RemoveRoom deletes a room from the lobby directory of a running server.
// Sockets still connected to the room are left alone.
func RemoveRoom(ctx context.Context, roomID string, cfg *config.Config, out io.Writer) error {
	if !content.ValidRoomID(roomID) {
		return fmt.Errorf("invalid room id %q", roomID)
	}

	lobby := rpc.NewLobbyClient(rpc.NewClient(cfg.BaseURL, cfg.APIKey, cfg.RPCTimeout))
	info, err := lobby.RemoveRoom(ctx, roomID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("room %s does not exist", roomID)
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return fmt.Errorf("failed to reach the lobby at %s: %w. Is the server running?", cfg.BaseURL, err)
	case err != nil:
		return fmt.Errorf("failed to remove room: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Room removed: %s\n", info.ID)
	_, _ = fmt.Fprintf(out, "Created by:   %s (%s)\n", info.CreatedBy.Name, info.CreatedBy.ID)
	return nil
}
