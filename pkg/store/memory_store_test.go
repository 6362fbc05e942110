package store

import (
	"testing"
	"time"

	"chapterhub/pkg/domain"
)

func TestMemoryStorePendingAttachmentLifecycle(t *testing.T) {
	s := NewMemoryStore()

	record := domain.PendingAttachment{
		ID:        "att-1",
		ChapterID: "chapter-1",
		Invitation: domain.AuthorInvitation{
			DNI:       "12345678A",
			Email:     "co@example.com",
			FirstName: "Ana",
			LastName:  "Pérez",
		},
		Status:    domain.AttachmentPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.SavePendingAttachment(record); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := s.GetPendingAttachment("att-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Invitation.DNI != "12345678A" {
		t.Fatalf("invitation dni = %q", got.Invitation.DNI)
	}

	if err := s.SetAttachmentStatus("att-1", domain.AttachmentAttached, 2, ""); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, _, _ = s.GetPendingAttachment("att-1")
	if got.Status != domain.AttachmentAttached || got.Attempts != 2 {
		t.Fatalf("after update: %+v", got)
	}

	if err := s.SetAttachmentStatus("missing", domain.AttachmentFailed, 1, "x"); err == nil {
		t.Fatalf("expected error for missing record")
	}
}

func TestMemoryStoreListPendingByChapterOrdersByCreation(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	for i, id := range []string{"att-b", "att-a", "att-c"} {
		record := domain.PendingAttachment{
			ID:        id,
			ChapterID: "chapter-9",
			Status:    domain.AttachmentPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SavePendingAttachment(record); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := s.SavePendingAttachment(domain.PendingAttachment{ID: "other", ChapterID: "chapter-1"}); err != nil {
		t.Fatalf("save other: %v", err)
	}

	records, err := s.ListPendingByChapter("chapter-9")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("list length = %d", len(records))
	}
	for i, want := range []string{"att-b", "att-a", "att-c"} {
		if records[i].ID != want {
			t.Fatalf("records[%d] = %s, want %s", i, records[i].ID, want)
		}
	}
}

func TestAttachmentModelRoundTripKeepsEditedFields(t *testing.T) {
	record := domain.PendingAttachment{
		ID:        "att-7",
		ChapterID: "chapter-7",
		Invitation: domain.AuthorInvitation{
			DNI:       "87654321B",
			Email:     "edited@example.com",
			FirstName: "Edited",
			LastName:  "Name",
		},
		Status:   domain.AttachmentPending,
		Attempts: 1,
	}
	model, err := modelFromAttachment(record)
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	back, err := attachmentFromModel(model)
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	if back.Invitation != record.Invitation {
		t.Fatalf("invitation changed: %+v", back.Invitation)
	}
}
