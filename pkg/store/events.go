package store

import (
	"context"
	"fmt"

	"github.com/nmdchub/nmdchub/pkg/models"
)

// HistoryRow is one line of the `history` command output: an event joined
// with the nick of the op that recorded it.
type HistoryRow struct {
	EventTypeID int
	Time        int64
	NoteByNick  string
	Note        string
}

// ListActiveEvents returns every live punishment row. The hub loads these
// into memory at startup and after each scrub.
func (s *Store) ListActiveEvents(ctx context.Context) ([]models.ActiveEvent, error) {
	var events []models.ActiveEvent
	if err := s.db.WithContext(ctx).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list active events: %w", err)
	}
	return events, nil
}

// AddActiveEvent inserts a live punishment row.
func (s *Store) AddActiveEvent(ctx context.Context, event *models.ActiveEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to add active event: %w", err)
	}
	return nil
}

// UpdateActiveEventUntil moves the expiry of an existing punishment.
func (s *Store) UpdateActiveEventUntil(ctx context.Context, eventTypeID int, entry string, until int64) error {
	result := s.db.WithContext(ctx).Model(&models.ActiveEvent{}).
		Where("event_type_id = ? AND entry = ?", eventTypeID, entry).
		Update("until", until)
	if result.Error != nil {
		return fmt.Errorf("failed to update active event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrEventNotFound
	}
	return nil
}

// DeleteActiveEvent removes a live punishment row.
func (s *Store) DeleteActiveEvent(ctx context.Context, eventTypeID int, entry string) error {
	result := s.db.WithContext(ctx).
		Where("event_type_id = ? AND entry = ?", eventTypeID, entry).
		Delete(&models.ActiveEvent{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete active event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrEventNotFound
	}
	return nil
}

// DeleteExpiredActiveEvents removes punishments whose expiry has passed.
func (s *Store) DeleteExpiredActiveEvents(ctx context.Context, now int64) error {
	err := s.db.WithContext(ctx).
		Where("until <= ?", now).
		Delete(&models.ActiveEvent{}).Error
	if err != nil {
		return fmt.Errorf("failed to scrub active events: %w", err)
	}
	return nil
}

// AppendHistory inserts a history row. The row's OID is populated on return;
// join rows keep it so the note can be finalized at disconnect.
func (s *Store) AppendHistory(ctx context.Context, event *models.Event) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// UpdateNote rewrites the note of an existing history row.
func (s *Store) UpdateNote(ctx context.Context, oid uint, note string) error {
	result := s.db.WithContext(ctx).Model(&models.Event{}).
		Where("oid = ?", oid).
		Update("note", note)
	if result.Error != nil {
		return fmt.Errorf("failed to update history note: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrEventNotFound
	}
	return nil
}

// ListHistory returns the most recent history rows for an account, newest
// first, joined with the nick of the recording op. types filters on event
// type ids; after drops rows older than the given Unix time.
func (s *Store) ListHistory(ctx context.Context, accountID uint, types []int, after int64, limit int) ([]HistoryRow, error) {
	var rows []HistoryRow
	query := s.db.WithContext(ctx).
		Table("events").
		Select("events.event_type_id, events.time, events.note, COALESCE(accounts.nick, '') AS note_by_nick").
		Joins("LEFT JOIN accounts ON accounts.oid = events.note_by").
		Where("events.account_id = ?", accountID)
	if len(types) > 0 {
		query = query.Where("events.event_type_id IN ?", types)
	}
	if after > 0 {
		query = query.Where("events.time >= ?", after)
	}
	query = query.Order("events.time DESC, events.oid DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return rows, nil
}

// SearchJoinsByIPPrefix returns the distinct nicks that joined from an IP
// matching the prefix, most recent joiners included first.
func (s *Store) SearchJoinsByIPPrefix(ctx context.Context, prefix string, after int64) ([]string, error) {
	var nicks []string
	query := s.db.WithContext(ctx).
		Table("events").
		Distinct("accounts.nick").
		Joins("JOIN accounts ON accounts.oid = events.account_id").
		Where("events.event_type_id = ?", models.EventJoin).
		Where("events.note LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	if after > 0 {
		query = query.Where("events.time >= ?", after)
	}
	if err := query.Order("accounts.nick").Scan(&nicks).Error; err != nil {
		return nil, fmt.Errorf("failed to search joins: %w", err)
	}
	return nicks, nil
}

// DeleteHistoryBefore removes history rows older than the cutoff, optionally
// restricted to the given event types. Used by the scrub cycle to bound
// table growth.
func (s *Store) DeleteHistoryBefore(ctx context.Context, cutoff int64, types []int) (int64, error) {
	query := s.db.WithContext(ctx).Where("time < ?", cutoff)
	if len(types) > 0 {
		query = query.Where("event_type_id IN ?", types)
	}
	result := query.Delete(&models.Event{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to scrub history: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// escapeLike neutralizes LIKE metacharacters in user-supplied prefixes.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
