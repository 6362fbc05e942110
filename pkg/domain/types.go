package domain

import "time"

// EditionState is the derived lifecycle state of an edition. It is computed
// from the edition dates on every read and never stored.
type EditionState string

const (
	StateFuture    EditionState = "future"
	StateOpen      EditionState = "open"
	StateClosed    EditionState = "closed"
	StatePublished EditionState = "published"
	StateUnknown   EditionState = "unknown"
)

// Edition is a time-boxed editorial cycle accepting chapter submissions.
// Dates are owned by the editorial-management service; this module only
// reads them. OpenDate must not be after DeadlineChapters, and PublishDate,
// when set, must not be before DeadlineChapters.
type Edition struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	OpenDate         *time.Time `json:"openDate,omitempty"`
	DeadlineChapters *time.Time `json:"deadlineChapters,omitempty"`
	PublishDate      *time.Time `json:"publishDate,omitempty"`
}

// SectionKey names one content block of a chapter draft.
type SectionKey string

const (
	SectionIntroduction SectionKey = "introduction"
	SectionObjectives   SectionKey = "objectives"
	SectionMethodology  SectionKey = "methodology"
	SectionResults      SectionKey = "results"
	SectionDiscussion   SectionKey = "discussion"
	SectionBibliography SectionKey = "bibliography"
)

// SectionRule bounds the word count of one section. MaxWords uses the
// NoUpperBound sentinel for sections without an upper limit.
type SectionRule struct {
	Key      SectionKey `json:"key"`
	MinWords int        `json:"minWords"`
	MaxWords int        `json:"maxWords"`
}

// ChapterDraft is the in-progress chapter a wizard session accumulates.
// It lives only in the session store until commit; nothing reaches the
// remote chapter service before a successful commit.
type ChapterDraft struct {
	Title                   string                `json:"title"`
	StudyType               string                `json:"studyType"`
	Sections                map[SectionKey]string `json:"sections"`
	AcceptedConfidentiality bool                  `json:"acceptedConfidentiality"`
}

// Identity is a collaborator account in the remote identity service.
type Identity struct {
	ID        string `json:"id"`
	DNI       string `json:"dni"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// AuthorInvitation carries the fields used to resolve or provision a
// collaborator. It is ephemeral input; once attached it is not retained
// outside the pending-attachment outbox.
type AuthorInvitation struct {
	DNI       string `json:"dni"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// AttachmentStatus tracks a co-author attachment retry record.
type AttachmentStatus string

const (
	AttachmentPending  AttachmentStatus = "pending"
	AttachmentAttached AttachmentStatus = "attached"
	AttachmentFailed   AttachmentStatus = "failed"
)

// PendingAttachment is a portal-owned retry record for a co-author
// invitation whose attach call failed after the chapter was created.
// The chapter itself is never rolled back; attachment is retried
// out-of-band until it succeeds or exhausts its attempts.
type PendingAttachment struct {
	ID         string           `json:"id"`
	ChapterID  string           `json:"chapterId"`
	Invitation AuthorInvitation `json:"invitation"`
	Status     AttachmentStatus `json:"status"`
	Attempts   int              `json:"attempts"`
	LastError  string           `json:"lastError,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}
