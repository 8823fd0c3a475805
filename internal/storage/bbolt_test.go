package storage

import (
	"context"
	"parlor/internal/models"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBbolt(t *testing.T) *BboltStorage {
	t.Helper()
	store, err := NewBboltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testBackend exercises the behaviour every backend must share.
func testBackend(t *testing.T, backend Backend) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s := backend.Namespace("room/EMPTY")
		_, ok, err := s.Get(ctx, "nothing")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("PutGetDelete", func(t *testing.T) {
		s := backend.Namespace("room/AAAAA")
		require.NoError(t, s.Put(ctx, "k", []byte("v1")))

		v, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("v1"), v)

		require.NoError(t, s.Put(ctx, "k", []byte("v2")))
		v, _, err = s.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("v2"), v)

		require.NoError(t, s.Delete(ctx, "k"))
		_, ok, err = s.Get(ctx, "k")
		require.NoError(t, err)
		require.False(t, ok)

		// Deleting twice is fine.
		require.NoError(t, s.Delete(ctx, "k"))
	})

	t.Run("NamespacesAreIsolated", func(t *testing.T) {
		a := backend.Namespace("room/BBBBB")
		b := backend.Namespace("room/CCCCC")
		require.NoError(t, a.Put(ctx, "messages", []byte("a")))

		_, ok, err := b.Get(ctx, "messages")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Records", func(t *testing.T) {
		s := backend.Namespace("lobby/main")
		sent := time.UnixMilli(1700000000123).UTC()
		user := models.User{ID: "u1", Name: "Alice"}

		dir := &DBDirectory{Rooms: []DBRoom{NewDBRoom(models.RoomInfo{
			ID:        "AB12C",
			CreatedBy: user,
			Users:     []models.User{user},
		})}}
		require.NoError(t, Save(ctx, s, "rooms", dir))

		var loaded DBDirectory
		ok, err := Load(ctx, s, "rooms", &loaded)
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, loaded.Rooms, 1)
		require.Equal(t, "AB12C", loaded.Rooms[0].Model().ID)
		require.Equal(t, user, loaded.Rooms[0].Model().CreatedBy)

		log := &DBLog{LastSeq: 1, Events: []DBEvent{NewDBEvent(models.ChatEvent{
			Type:    models.ChatEventMessage,
			Seq:     1,
			Payload: models.ChatEventPayload{User: &user, Sent: &sent, Message: "hi"},
		})}}
		require.NoError(t, Save(ctx, s, "room:AB12C", log))

		var loadedLog DBLog
		ok, err = Load(ctx, s, "room:AB12C", &loadedLog)
		require.NoError(t, err)
		require.True(t, ok)
		event := loadedLog.Events[0].Model()
		require.Equal(t, models.ChatEventMessage, event.Type)
		require.Equal(t, "hi", event.Payload.Message)
		require.True(t, sent.Equal(*event.Payload.Sent))
		require.Equal(t, user, *event.Payload.User)
	})

	t.Run("LoadCorrupt", func(t *testing.T) {
		s := backend.Namespace("lobby/corrupt")
		require.NoError(t, s.Put(ctx, "rooms", []byte{0xc1}))

		var loaded DBDirectory
		_, err := Load(ctx, s, "rooms", &loaded)
		require.Error(t, err)
	})
}

func TestBboltStorage(t *testing.T) {
	testBackend(t, newTestBbolt(t))
}

func TestBboltStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	store, err := NewBboltStorage(path)
	require.NoError(t, err)
	require.NoError(t, store.Namespace("lobby/main").Put(ctx, "rooms", []byte("x")))
	require.NoError(t, store.Close())

	store, err = NewBboltStorage(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	v, ok, err := store.Namespace("lobby/main").Get(ctx, "rooms")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("x"), v)
}

func TestMemoryStorage(t *testing.T) {
	testBackend(t, NewMemoryStorage())
}

func TestMemoryStorage_CopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage().Namespace("room/AAAAA")

	value := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", value))
	value[0] = 'z'

	got, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
}
