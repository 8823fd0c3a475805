package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"parlor/internal/auth"
	"parlor/internal/models"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestIntegration(t *testing.T) {
	// Setup temporary DB and ports
	apiAddr := freeAddr(t)
	adminAddr := freeAddr(t)
	baseURL := "http://" + apiAddr
	secret := "integration-secret"

	t.Setenv("PARLOR_DB", filepath.Join(t.TempDir(), "integration.db"))
	t.Setenv("API_ADDR", apiAddr)
	t.Setenv("ADMIN_ADDR", adminAddr)
	t.Setenv("BASE_URL", baseURL)
	t.Setenv("API_KEY", "integration-key")
	t.Setenv("DEV_TOKEN_SECRET", secret)
	t.Setenv("CLOSE_GRACE", "50ms")

	// Start server in background
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, nil) }()

	waitForServer(t, fmt.Sprintf("http://%s/healthz", adminAddr), 20)
	waitForServer(t, baseURL+"/parties/users/main/", 20)

	alice := models.User{ID: "alice", Name: "Alice"}
	bob := models.User{ID: "bob", Name: "Bob"}
	aliceToken, err := auth.SignDevToken(secret, "", alice, time.Hour, time.Now())
	require.NoError(t, err)
	bobToken, err := auth.SignDevToken(secret, "", bob, time.Hour, time.Now())
	require.NoError(t, err)

	call := func(method, path, token string, body any) *http.Response {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req, err := http.NewRequest(method, baseURL+path, &buf)
		require.NoError(t, err)
		req.Header.Set("Authorization", token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	// Step 1: Unauthenticated sockets are refused before the upgrade
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+apiAddr+"/parties/lobby/main/ws", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Step 2: Create a room
	resp = call(http.MethodPost, "/parties/lobby/main/", "Bearer "+aliceToken, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.LobbyEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	roomID := created.Payload.Room.ID

	// Step 3: List rooms
	resp = call(http.MethodGet, "/parties/lobby/main/rooms", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rooms []models.ListedRoom
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Len(t, rooms, 1)
	require.Equal(t, roomID, rooms[0].ID)
	require.Equal(t, alice.ID, rooms[0].CreatedBy.ID)

	// Step 4: Connect and send messages
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+apiAddr+"/parties/room/"+roomID+"/ws?token="+bobToken, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "payload": map[string]string{"message": text}}))
	}

	var got []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for len(got) < 3 {
		var event models.ChatEvent
		require.NoError(t, conn.ReadJSON(&event))
		if event.Type == models.ChatEventMessage {
			got = append(got, event.Payload.Message)
		}
	}
	require.Equal(t, []string{"one", "two", "three"}, got)

	// Step 5: History survives on the room
	resp = call(http.MethodGet, "/parties/room/"+roomID, aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snapshot models.RoomSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	require.Len(t, snapshot.Messages, 3)
	require.Equal(t, "three", snapshot.Messages[2].Payload.Message)
	require.Equal(t, bob.ID, snapshot.Messages[0].Payload.User.ID)

	// Step 6: A wrong service key changes nothing
	req, err := http.NewRequest(http.MethodDelete, baseURL+"/parties/lobby/main/room", bytes.NewBufferString(`{"roomId":"`+roomID+`"}`))
	require.NoError(t, err)
	req.Header.Set(auth.ServiceKeyHeader, "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = call(http.MethodGet, "/parties/lobby/main/rooms", bobToken, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Len(t, rooms, 1)

	// Step 7: Metrics are served on the admin address
	resp, err = http.Get(fmt.Sprintf("http://%s/metrics", adminAddr))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Step 8: The CLI removes the room
	require.NoError(t, run(ctx, []string{"-remove-room", roomID}))
	resp = call(http.MethodGet, "/parties/lobby/main/rooms", bobToken, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Empty(t, rooms)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			// Any answer short of a server error means the listener is up.
			if resp.StatusCode < http.StatusInternalServerError {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
