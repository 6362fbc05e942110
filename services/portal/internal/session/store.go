// Package session persists in-progress wizard drafts. A session is the
// only home a draft has before commit; it is deleted on successful commit
// or explicit abandonment and expires on its own otherwise.
package session

import "chapterhub/pkg/domain"

// State is one author's wizard session for one (edition, book) pair.
type State struct {
	ID        string              `json:"id"`
	AuthorID  string              `json:"authorId"`
	EditionID string              `json:"editionId"`
	BookID    string              `json:"bookId"`
	Cursor    int                 `json:"cursor"`
	Draft     domain.ChapterDraft `json:"draft"`
}

// Store persists wizard sessions.
type Store interface {
	Save(state State) error
	Get(id string) (State, bool, error)
	Delete(id string) error
}
