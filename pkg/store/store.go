package store

import "chapterhub/pkg/domain"

// Store persists pending co-author attachments. The chapter, author, and
// identity records themselves live in remote services; the outbox only
// records attach work the portal still owes after a chapter was created.
type Store interface {
	SavePendingAttachment(domain.PendingAttachment) error
	GetPendingAttachment(id string) (domain.PendingAttachment, bool, error)
	ListPendingByChapter(chapterID string) ([]domain.PendingAttachment, error)
	SetAttachmentStatus(id string, status domain.AttachmentStatus, attempts int, errMsg string) error
}
