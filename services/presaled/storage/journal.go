package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gepspresale/core/events"
)

const maxJournalPage = 500

// Entry is a journal record returned to API callers.
type Entry struct {
	ID         uint64            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Journal appends every emitted presale event to the database.
type Journal struct {
	store  *Store
	logger *slog.Logger
	nowFn  func() time.Time
}

// Journal returns an events.Emitter backed by the store.
func (s *Store) Journal(logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{store: s, logger: logger, nowFn: time.Now}
}

// Emit implements events.Emitter. Write failures are logged; the engine has
// already committed the state change the event describes.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		j.logger.Error("journal encode failed", "type", payload.Type, "error", err)
		return
	}
	row := JournalEvent{Type: payload.Type, Attributes: string(attrs), CreatedAt: j.nowFn().UTC()}
	if err := j.store.db.Create(&row).Error; err != nil {
		j.logger.Error("journal append failed", "type", payload.Type, "error", err)
	}
}

// Recent returns up to limit of the newest entries in ascending order. Entries
// with an ID at or below after are skipped.
func (j *Journal) Recent(ctx context.Context, limit int, after uint64) ([]Entry, error) {
	if limit <= 0 || limit > maxJournalPage {
		limit = maxJournalPage
	}
	var rows []JournalEvent
	err := j.store.db.WithContext(ctx).
		Where("id > ?", after).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		entry := Entry{ID: rows[i].ID, Type: rows[i].Type, CreatedAt: rows[i].CreatedAt}
		if err := json.Unmarshal([]byte(rows[i].Attributes), &entry.Attributes); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}
