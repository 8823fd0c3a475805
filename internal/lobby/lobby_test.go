package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"parlor/internal/auth"
	"parlor/internal/content"
	"parlor/internal/models"
	"parlor/internal/storage"
	"parlor/internal/ws"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var (
	alice = models.User{ID: "u1", Name: "Alice"}
	bob   = models.User{ID: "u2", Name: "Bob"}
)

type fakeRooms struct {
	users map[string][]models.User
}

func (f *fakeRooms) Users(_ context.Context, roomID string) ([]models.User, error) {
	users, ok := f.users[roomID]
	if !ok {
		return nil, models.ErrUpstreamUnavailable
	}
	return users, nil
}

type fakeWS struct {
	in        chan []byte
	out       chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newFakeWS() *fakeWS {
	return &fakeWS{in: make(chan []byte, 8), out: make(chan []byte, 64), closeCh: make(chan struct{})}
}

func (f *fakeWS) Close() error {
	f.closeOnce.Do(func() { close(f.closeCh) })
	return nil
}

func (f *fakeWS) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closeCh:
		return errors.New("closed")
	default:
	}
	if messageType == websocket.TextMessage {
		f.out <- data
	}
	return nil
}

func (f *fakeWS) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case <-f.closeCh:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (f *fakeWS) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-f.out:
		var v map[string]any
		require.NoError(t, json.Unmarshal(data, &v))
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (f *fakeWS) expect(t *testing.T, typ string) map[string]any {
	t.Helper()
	for {
		if v := f.next(t); v["type"] == typ {
			return v
		}
	}
}

func newTestLobby(t *testing.T, rooms RoomAPI) *Lobby {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l := New(ctx, Config{
		Store:               storage.NewMemoryStorage().Namespace("lobby/main"),
		Rooms:               rooms,
		LiveMembership:      rooms != nil,
		BroadcastMembership: true,
	})
	go l.Run()
	return l
}

func connectSocket(t *testing.T, l *Lobby, user models.User) *fakeWS {
	t.Helper()
	fw := newFakeWS()
	conn := ws.NewConnection(fw)
	require.NoError(t, l.OnConnect(context.Background(), conn, user))
	go conn.Handle(context.Background(), l)
	t.Cleanup(func() { _ = fw.Close() })
	return fw
}

func TestNewRoomID(t *testing.T) {
	seen := map[string]bool{}
	for range 100 {
		id := NewRoomID()
		require.True(t, content.ValidRoomID(id), id)
		seen[id] = true
	}
	require.Greater(t, len(seen), 90)
}

func TestLobby_CreateRoom(t *testing.T) {
	l := newTestLobby(t, nil)
	ctx := context.Background()
	sock := connectSocket(t, l, bob)

	created := map[string]bool{}
	for range 20 {
		info, err := l.CreateRoom(ctx, alice)
		require.NoError(t, err)
		require.True(t, content.ValidRoomID(info.ID))
		require.False(t, created[info.ID], "duplicate id %s", info.ID)
		created[info.ID] = true
		require.Equal(t, alice, info.CreatedBy)
		require.Empty(t, info.Users)
	}

	event := sock.expect(t, "create")
	room := event["payload"].(map[string]any)["room"].(map[string]any)
	require.True(t, created[room["id"].(string)])

	rooms, err := l.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 20)
}

func TestLobby_CreateRoom_Collision(t *testing.T) {
	l := newTestLobby(t, nil)
	ctx := context.Background()

	ids := []string{"AAAAA", "AAAAA", "AAAAA", "BBBBB"}
	l.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := l.CreateRoom(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "AAAAA", first.ID)

	second, err := l.CreateRoom(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "BBBBB", second.ID)

	l.newID = func() string { return "AAAAA" }
	_, err = l.CreateRoom(ctx, alice)
	require.ErrorIs(t, err, ErrIDExhausted)
}

func TestLobby_Membership(t *testing.T) {
	l := newTestLobby(t, nil)
	ctx := context.Background()
	sock := connectSocket(t, l, alice)

	info, err := l.CreateRoom(ctx, alice)
	require.NoError(t, err)
	sock.expect(t, "create")

	require.NoError(t, l.Join(ctx, info.ID, alice))
	require.NoError(t, l.Join(ctx, info.ID, alice))
	require.NoError(t, l.Join(ctx, info.ID, bob))

	got, err := l.GetRoom(ctx, info.ID)
	require.NoError(t, err)
	require.Equal(t, []models.User{alice, bob}, got.Users)

	// Only the two real changes were broadcast.
	require.Equal(t, "u1", sock.expect(t, "join")["payload"].(map[string]any)["user"].(map[string]any)["id"])
	require.Equal(t, "u2", sock.expect(t, "join")["payload"].(map[string]any)["user"].(map[string]any)["id"])

	require.NoError(t, l.Leave(ctx, info.ID, "u1"))
	got, _ = l.GetRoom(ctx, info.ID)
	require.Equal(t, []models.User{bob}, got.Users)
	require.Equal(t, "u1", sock.expect(t, "leave")["payload"].(map[string]any)["id"])

	require.NoError(t, l.UpdateMembership(ctx, info.ID, []models.User{alice, bob, {ID: "u1", Name: "Alice 2"}}))
	got, _ = l.GetRoom(ctx, info.ID)
	require.Equal(t, []models.User{{ID: "u1", Name: "Alice 2"}, bob}, got.Users)
	sock.expect(t, "update")

	require.ErrorIs(t, l.Join(ctx, "ZZZZZ", alice), models.ErrNotFound)
	require.ErrorIs(t, l.Leave(ctx, "ZZZZZ", "u1"), models.ErrNotFound)
	require.ErrorIs(t, l.UpdateMembership(ctx, "ZZZZZ", nil), models.ErrNotFound)
}

func TestLobby_RemoveRoom(t *testing.T) {
	l := newTestLobby(t, nil)
	ctx := context.Background()
	sock := connectSocket(t, l, alice)

	info, err := l.CreateRoom(ctx, alice)
	require.NoError(t, err)

	removed, err := l.RemoveRoom(ctx, info.ID)
	require.NoError(t, err)
	require.Equal(t, info.ID, removed.ID)
	require.Equal(t, info.ID, sock.expect(t, "close")["payload"].(map[string]any)["roomId"])

	_, err = l.RemoveRoom(ctx, info.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = l.GetRoom(ctx, info.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestLobby_RemovedIDsAreNotReused(t *testing.T) {
	l := newTestLobby(t, nil)
	ctx := context.Background()

	ids := []string{"AAAAA", "AAAAA", "BBBBB"}
	l.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := l.CreateRoom(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "AAAAA", first.ID)
	_, err = l.RemoveRoom(ctx, first.ID)
	require.NoError(t, err)

	second, err := l.CreateRoom(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, "BBBBB", second.ID)

	l.newID = func() string { return "AAAAA" }
	_, err = l.CreateRoom(ctx, bob)
	require.ErrorIs(t, err, ErrIDExhausted)
}

func TestLobby_UpdateToEmptyRoomSendsUsers(t *testing.T) {
	l := newTestLobby(t, nil)
	ctx := context.Background()
	sock := connectSocket(t, l, alice)

	info, err := l.CreateRoom(ctx, alice)
	require.NoError(t, err)
	require.NoError(t, l.Join(ctx, info.ID, bob))
	require.NoError(t, l.UpdateMembership(ctx, info.ID, nil))

	payload := sock.expect(t, "update")["payload"].(map[string]any)
	require.Equal(t, info.ID, payload["roomId"])
	users, ok := payload["users"]
	require.True(t, ok, "users must be present for an empty room")
	require.Empty(t, users)
}

func TestLobby_ListRoomsLive(t *testing.T) {
	rooms := &fakeRooms{users: map[string][]models.User{}}
	l := newTestLobby(t, rooms)
	ctx := context.Background()

	live, err := l.CreateRoom(ctx, alice)
	require.NoError(t, err)
	down, err := l.CreateRoom(ctx, alice)
	require.NoError(t, err)

	require.NoError(t, l.Join(ctx, down.ID, bob))
	rooms.users[live.ID] = []models.User{alice, alice}

	listed, err := l.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	byID := map[string]models.ListedRoom{}
	for _, r := range listed {
		byID[r.ID] = r
	}
	require.True(t, byID[live.ID].Live)
	require.Equal(t, []models.User{alice}, byID[live.ID].Users)
	require.False(t, byID[down.ID].Live)
	require.Equal(t, []models.User{bob}, byID[down.ID].Users)
}

func TestLobby_HandleEvent(t *testing.T) {
	l := newTestLobby(t, nil)
	ctx := context.Background()
	info, err := l.CreateRoom(ctx, alice)
	require.NoError(t, err)

	require.NoError(t, l.HandleEvent(ctx, []byte(`{"type":"join","payload":{"roomId":"`+info.ID+`","user":{"id":"u2","name":"Bob"}}}`)))
	got, _ := l.GetRoom(ctx, info.ID)
	require.Equal(t, []models.User{bob}, got.Users)

	require.ErrorIs(t, l.HandleEvent(ctx, []byte(`{"type":"join","payload":{"roomId":"`+info.ID+`"}}`)), models.ErrInvalidPayload)
	require.Error(t, l.HandleEvent(ctx, []byte(`{"type":"create","payload":{}}`)))
	require.ErrorIs(t, l.HandleEvent(ctx, []byte(`{"type":"leave","payload":{"roomId":"ZZZZZ","id":"u2"}}`)), models.ErrNotFound)
}

func TestLobby_Socket(t *testing.T) {
	l := newTestLobby(t, nil)
	ctx := context.Background()
	info, err := l.CreateRoom(ctx, alice)
	require.NoError(t, err)

	a := connectSocket(t, l, alice)
	b := connectSocket(t, l, bob)
	presence := a.expect(t, "presence")
	require.Len(t, presence["payload"].(map[string]any)["users"], 1)
	presence = a.expect(t, "presence")
	require.Len(t, presence["payload"].(map[string]any)["users"], 2)

	a.in <- []byte(`{"type":"room","payload":{"roomId":"` + info.ID + `"}}`)
	reply := a.expect(t, "room")
	require.Equal(t, info.ID, reply["payload"].(map[string]any)["room"].(map[string]any)["id"])

	a.in <- []byte(`{"type":"room","payload":{"roomId":"ZZZZZ"}}`)
	reply = a.expect(t, "room")
	require.Nil(t, reply["payload"].(map[string]any)["room"])

	b.in <- []byte(`{"type":"close","payload":{"roomId":"` + info.ID + `"}}`)
	require.Equal(t, info.ID, a.expect(t, "close")["payload"].(map[string]any)["roomId"])

	_ = b.Close()
	presence = a.expect(t, "presence")
	require.Len(t, presence["payload"].(map[string]any)["users"], 1)
}

func TestLobby_Handlers(t *testing.T) {
	l := newTestLobby(t, nil)

	do := func(h http.HandlerFunc, method, body string, user *models.User) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/", strings.NewReader(body))
		if user != nil {
			req = req.WithContext(auth.WithUser(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec
	}

	rec := do(l.CreateRoomHandler, http.MethodPost, "", &alice)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.LobbyEvent
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.Equal(t, models.LobbyEventCreate, created.Type)
	id := created.Payload.Room.ID

	rec = do(l.ListRoomsHandler, http.MethodGet, "", &alice)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []models.ListedRoom
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	require.Len(t, listed, 1)
	require.Equal(t, id, listed[0].ID)

	rec = do(l.GetRoomHandler, http.MethodPost, `{"roomId":"`+id+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusNotFound, do(l.GetRoomHandler, http.MethodPost, `{"roomId":"ZZZZZ"}`, nil).Code)
	require.Equal(t, http.StatusBadRequest, do(l.GetRoomHandler, http.MethodPost, `{"roomId":"bad"}`, nil).Code)

	rec = do(l.EventsHandler, http.MethodPost, `{"type":"join","payload":{"roomId":"`+id+`","user":{"id":"u2"}}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusBadRequest, do(l.EventsHandler, http.MethodPost, `{"type":"bogus"}`, nil).Code)
	require.Equal(t, http.StatusBadRequest, do(l.EventsHandler, http.MethodPost, `{`, nil).Code)

	rec = do(l.RemoveRoomHandler, http.MethodDelete, `{"roomId":"`+id+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusNotFound, do(l.RemoveRoomHandler, http.MethodDelete, `{"roomId":"`+id+`"}`, nil).Code)

	require.Equal(t, http.StatusUnauthorized, do(l.CreateRoomHandler, http.MethodPost, "", nil).Code)
}
