// Package sqlite provides an embedded, file-backed [recording.Store] built
// on gorm and SQLite. It is the default store for single-user desktop
// installs.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chandeldivyam/samwise/internal/recording"
)

var _ recording.Store = (*Store)(nil)

// recordingRow is the gorm model of the recordings table.
type recordingRow struct {
	ID            string    `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID        string    `gorm:"column:user_id;type:varchar(200);not null;index:idx_recordings_user_created,priority:1"`
	Name          string    `gorm:"column:name;type:text;not null"`
	Transcription string    `gorm:"column:transcription;type:text;not null;default:''"`
	Summary       string    `gorm:"column:summary;type:text;not null;default:''"`
	ActionItems   string    `gorm:"column:action_items;type:text;not null;default:''"`
	Status        string    `gorm:"column:status;type:varchar(32);not null"`
	FilePath      string    `gorm:"column:file_path;type:text;not null;default:''"`
	ArchiveURL    string    `gorm:"column:archive_url;type:text;not null;default:''"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;<-:create;index:idx_recordings_user_created,priority:2,sort:desc"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (recordingRow) TableName() string {
	return "recordings"
}

func fromRecording(r recording.Recording) recordingRow {
	return recordingRow{
		ID:            r.ID,
		UserID:        r.UserID,
		Name:          r.Name,
		Transcription: r.Transcription,
		Summary:       r.Summary,
		ActionItems:   r.ActionItems,
		Status:        string(r.Status),
		FilePath:      r.FilePath,
		ArchiveURL:    r.ArchiveURL,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func (row recordingRow) toRecording() recording.Recording {
	return recording.Recording{
		ID:            row.ID,
		UserID:        row.UserID,
		Name:          row.Name,
		Transcription: row.Transcription,
		Summary:       row.Summary,
		ActionItems:   row.ActionItems,
		Status:        recording.Status(row.Status),
		FilePath:      row.FilePath,
		ArchiveURL:    row.ArchiveURL,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

// Store is a [recording.Store] backed by a SQLite database file.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the recordings table. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases alive across calls.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&recordingRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping reports whether the database handle is usable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create implements [recording.Store].
func (s *Store) Create(ctx context.Context, r recording.Recording) error {
	row := fromRecording(r)
	err := s.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return recording.ErrExists
	}
	return fmt.Errorf("sqlite store: create %s: %w", r.ID, err)
}

// Get implements [recording.Store].
func (s *Store) Get(ctx context.Context, id string) (recording.Recording, error) {
	var row recordingRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return recording.Recording{}, recording.ErrNotFound
	}
	if err != nil {
		return recording.Recording{}, fmt.Errorf("sqlite store: get %s: %w", id, err)
	}
	return row.toRecording(), nil
}

// Update implements [recording.Store].
func (s *Store) Update(ctx context.Context, r recording.Recording) error {
	row := fromRecording(r)
	res := s.db.WithContext(ctx).
		Model(&recordingRow{}).
		Where("id = ?", r.ID).
		Updates(map[string]any{
			"user_id":       row.UserID,
			"name":          row.Name,
			"transcription": row.Transcription,
			"summary":       row.Summary,
			"action_items":  row.ActionItems,
			"status":        row.Status,
			"file_path":     row.FilePath,
			"archive_url":   row.ArchiveURL,
			"updated_at":    row.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("sqlite store: update %s: %w", r.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return recording.ErrNotFound
	}
	return nil
}

// ListByUser implements [recording.Store].
func (s *Store) ListByUser(ctx context.Context, userID string) ([]recording.Recording, error) {
	var rows []recordingRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list %s: %w", userID, err)
	}
	out := make([]recording.Recording, len(rows))
	for i, row := range rows {
		out[i] = row.toRecording()
	}
	return out, nil
}
