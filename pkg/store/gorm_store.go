package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"chapterhub/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&PendingAttachmentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SavePendingAttachment inserts or replaces an attachment record.
func (s *GormStore) SavePendingAttachment(p domain.PendingAttachment) error {
	model, err := modelFromAttachment(p)
	if err != nil {
		return fmt.Errorf("encode invitation: %w", err)
	}
	if err := s.db.Save(&model).Error; err != nil {
		return fmt.Errorf("save pending attachment: %w", err)
	}
	return nil
}

// GetPendingAttachment fetches one attachment record by ID.
func (s *GormStore) GetPendingAttachment(id string) (domain.PendingAttachment, bool, error) {
	var model PendingAttachmentModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.PendingAttachment{}, false, nil
	}
	if err != nil {
		return domain.PendingAttachment{}, false, fmt.Errorf("get pending attachment: %w", err)
	}
	attachment, err := attachmentFromModel(model)
	if err != nil {
		return domain.PendingAttachment{}, false, err
	}
	return attachment, true, nil
}

// ListPendingByChapter returns attachment records for a chapter, oldest first.
func (s *GormStore) ListPendingByChapter(chapterID string) ([]domain.PendingAttachment, error) {
	var models []PendingAttachmentModel
	if err := s.db.Where("chapter_id = ?", chapterID).Order("created_at asc").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list pending attachments: %w", err)
	}
	out := make([]domain.PendingAttachment, 0, len(models))
	for _, model := range models {
		attachment, err := attachmentFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, attachment)
	}
	return out, nil
}

// SetAttachmentStatus updates the retry bookkeeping on a record.
func (s *GormStore) SetAttachmentStatus(id string, status domain.AttachmentStatus, attempts int, errMsg string) error {
	res := s.db.Model(&PendingAttachmentModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     string(status),
		"attempts":   attempts,
		"last_error": errMsg,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("set attachment status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("attachment %s not found", id)
	}
	return nil
}
