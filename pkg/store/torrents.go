package store

import (
	"context"
	"fmt"

	"github.com/nmdchub/nmdchub/pkg/models"
)

// CreateTorrent posts a new torrent link. The location must be unique among
// rows that have not been removed. The row starts active but unapproved:
// visible to ops, hidden from regular users.
func (s *Store) CreateTorrent(ctx context.Context, torrent *models.Torrent) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Torrent{}).
		Where("location = ? AND active = ?", torrent.Location, true).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check torrent location: %w", err)
	}
	if count > 0 {
		return models.ErrDuplicateTorrent
	}
	torrent.Active = true
	if err := s.db.WithContext(ctx).Create(torrent).Error; err != nil {
		return fmt.Errorf("failed to create torrent: %w", err)
	}
	return nil
}

// GetTorrent retrieves a torrent by OID.
func (s *Store) GetTorrent(ctx context.Context, oid uint) (*models.Torrent, error) {
	var torrent models.Torrent
	err := s.db.WithContext(ctx).First(&torrent, "oid = ?", oid).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrTorrentNotFound)
	}
	return &torrent, nil
}

// ApproveTorrent marks a pending torrent visible to regular users.
func (s *Store) ApproveTorrent(ctx context.Context, oid, approverID uint, approvalTime int64) error {
	result := s.db.WithContext(ctx).Model(&models.Torrent{}).
		Where("oid = ? AND active = ?", oid, true).
		Updates(map[string]any{
			"approval_by":   approverID,
			"approval_time": approvalTime,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to approve torrent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrTorrentNotFound
	}
	return nil
}

// RemoveTorrent hides a torrent from listings. The row is kept for history.
func (s *Store) RemoveTorrent(ctx context.Context, oid uint) error {
	result := s.db.WithContext(ctx).Model(&models.Torrent{}).
		Where("oid = ?", oid).
		Update("active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to remove torrent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrTorrentNotFound
	}
	return nil
}

// ListApprovedTorrents returns torrents visible to regular users, newest
// first.
func (s *Store) ListApprovedTorrents(ctx context.Context, limit int) ([]models.Torrent, error) {
	var torrents []models.Torrent
	query := s.db.WithContext(ctx).
		Where("active = ? AND approval_by IS NOT NULL", true).
		Order("added_time DESC, oid DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&torrents).Error; err != nil {
		return nil, fmt.Errorf("failed to list torrents: %w", err)
	}
	return torrents, nil
}

// ListPendingTorrents returns torrents awaiting op approval, oldest first.
func (s *Store) ListPendingTorrents(ctx context.Context) ([]models.Torrent, error) {
	var torrents []models.Torrent
	err := s.db.WithContext(ctx).
		Where("approval_by IS NULL AND active = ?", true).
		Order("added_time, oid").
		Find(&torrents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending torrents: %w", err)
	}
	return torrents, nil
}
