package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"chapterhub/pkg/domain"
)

// PendingAttachmentModel is the gorm row backing a pending attachment.
// The invitation snapshot is stored as JSON so edited field values survive
// exactly as the author left them.
type PendingAttachmentModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	ChapterID string `gorm:"size:64;index"`
	Payload   datatypes.JSON
	Status    string `gorm:"size:16;index"`
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func modelFromAttachment(p domain.PendingAttachment) (PendingAttachmentModel, error) {
	payload, err := json.Marshal(p.Invitation)
	if err != nil {
		return PendingAttachmentModel{}, err
	}
	return PendingAttachmentModel{
		ID:        p.ID,
		ChapterID: p.ChapterID,
		Payload:   payload,
		Status:    string(p.Status),
		Attempts:  p.Attempts,
		LastError: p.LastError,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}, nil
}

func attachmentFromModel(m PendingAttachmentModel) (domain.PendingAttachment, error) {
	var invitation domain.AuthorInvitation
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &invitation); err != nil {
			return domain.PendingAttachment{}, err
		}
	}
	return domain.PendingAttachment{
		ID:         m.ID,
		ChapterID:  m.ChapterID,
		Invitation: invitation,
		Status:     domain.AttachmentStatus(m.Status),
		Attempts:   m.Attempts,
		LastError:  m.LastError,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}
