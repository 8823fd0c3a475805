// Package eventlog is the persisted, ordered event history of one room.
package eventlog

import (
	"context"
	"fmt"
	"parlor/internal/models"
	"parlor/internal/storage"
	"time"
)

const DefaultMaxRecords = 1000

type Config struct {
	RoomID string
	Store  storage.Store
	// MaxRecords caps retained events; the oldest are dropped first.
	MaxRecords     int
	RecordCallback func(event models.ChatEvent)
}

// Log is not safe for concurrent use. It belongs to the room actor's mailbox.
type Log struct {
	RoomID         string
	MaxRecords     int
	RecordCallback func(event models.ChatEvent)

	store  storage.Store
	loaded bool
	record storage.DBLog
	now    func() time.Time
}

func New(config Config) *Log {
	if config.MaxRecords <= 0 {
		config.MaxRecords = DefaultMaxRecords
	}
	return &Log{
		RoomID:         config.RoomID,
		MaxRecords:     config.MaxRecords,
		RecordCallback: config.RecordCallback,
		store:          config.Store,
		now:            time.Now,
	}
}

func (l *Log) key() string {
	return "room:" + l.RoomID
}

func (l *Log) load(ctx context.Context) error {
	if l.loaded {
		return nil
	}

	var record storage.DBLog
	if _, err := storage.Load(ctx, l.store, l.key(), &record); err != nil {
		return fmt.Errorf("failed to load log of room %s: %w", l.RoomID, err)
	}
	l.record = record
	l.loaded = true
	return nil
}

func (l *Log) save(ctx context.Context, record storage.DBLog) error {
	if err := storage.Save(ctx, l.store, l.key(), &record); err != nil {
		return fmt.Errorf("failed to save log of room %s: %w", l.RoomID, err)
	}
	l.record = record
	return nil
}

// Append assigns the next seq to event, persists it and then calls RecordCallback.
// A failed write leaves the log unchanged.
func (l *Log) Append(ctx context.Context, event models.ChatEvent) (models.ChatEvent, error) {
	if err := l.load(ctx); err != nil {
		return models.ChatEvent{}, err
	}

	event.Seq = l.record.LastSeq + 1
	if event.Payload.Sent == nil {
		sent := l.now().UTC()
		event.Payload.Sent = &sent
	}

	next := storage.DBLog{
		LastSeq: event.Seq,
		Events:  append(append([]storage.DBEvent(nil), l.record.Events...), storage.NewDBEvent(event)),
	}
	if over := len(next.Events) - l.MaxRecords; over > 0 {
		next.Events = next.Events[over:]
	}

	if err := l.save(ctx, next); err != nil {
		return models.ChatEvent{}, err
	}

	if l.RecordCallback != nil {
		l.RecordCallback(event)
	}
	return event, nil
}

// Clear compacts the log to a single clear marker.
func (l *Log) Clear(ctx context.Context) (models.ChatEvent, error) {
	if err := l.load(ctx); err != nil {
		return models.ChatEvent{}, err
	}

	sent := l.now().UTC()
	marker := models.ChatEvent{
		Type:    models.ChatEventClear,
		Seq:     l.record.LastSeq + 1,
		Payload: models.ChatEventPayload{Sent: &sent},
	}
	next := storage.DBLog{
		LastSeq: marker.Seq,
		Events:  []storage.DBEvent{storage.NewDBEvent(marker)},
	}
	if err := l.save(ctx, next); err != nil {
		return models.ChatEvent{}, err
	}

	if l.RecordCallback != nil {
		l.RecordCallback(marker)
	}
	return marker, nil
}

// History returns message events with seq greater than since that follow the last clear marker.
func (l *Log) History(ctx context.Context, since int64) ([]models.ChatEvent, error) {
	if err := l.load(ctx); err != nil {
		return nil, err
	}

	start := 0
	for i, e := range l.record.Events {
		if e.Type == string(models.ChatEventClear) {
			start = i + 1
		}
	}

	result := []models.ChatEvent{}
	for _, e := range l.record.Events[start:] {
		if e.Type != string(models.ChatEventMessage) || e.Seq <= since {
			continue
		}
		result = append(result, e.Model())
	}
	return result, nil
}

// LastSeq is the seq of the newest persisted event, 0 if none.
func (l *Log) LastSeq(ctx context.Context) (int64, error) {
	if err := l.load(ctx); err != nil {
		return 0, err
	}
	return l.record.LastSeq, nil
}

// Delete removes the stored log. The in-memory copy is reset as well.
func (l *Log) Delete(ctx context.Context) error {
	if err := l.store.Delete(ctx, l.key()); err != nil {
		return fmt.Errorf("failed to delete log of room %s: %w", l.RoomID, err)
	}
	l.record = storage.DBLog{}
	l.loaded = true
	return nil
}
