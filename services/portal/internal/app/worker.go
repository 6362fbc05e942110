package app

import (
	"context"
	"errors"

	"chapterhub/pkg/domain"
	"chapterhub/pkg/queue"
)

// StartAttachWorker launches queue consumers that replay deferred
// co-author attachments. Worker calls authenticate with the portal's
// internal credential since the original author token is long gone.
func (a *App) StartAttachWorker(ctx context.Context, concurrency int) {
	if a.queue == nil {
		a.logger.Warn("attachment retry queue not configured, deferred attaches will not run")
		return
	}
	a.queue.Start(ctx, concurrency, a.processAttachJob)
	a.logger.Info("attachment retry worker started", "concurrency", concurrency)
}

func (a *App) processAttachJob(ctx context.Context, job queue.JobStatus) error {
	rec, ok, err := a.outbox.GetPendingAttachment(job.AttachmentID)
	if err != nil {
		return err
	}
	if !ok || rec.Status == domain.AttachmentAttached {
		return nil
	}

	identity, err := a.resolve(a.internalToken, rec.Invitation)
	if err == nil {
		err = a.identities.Attach(a.internalToken, rec.ChapterID, identity.ID, rec.Invitation)
	}
	if err != nil {
		if errors.Is(err, ErrIdentityConflict) {
			// Retrying will not heal a conflicting account; park the
			// record for manual review and drop the job.
			_ = a.outbox.SetAttachmentStatus(rec.ID, domain.AttachmentFailed, job.Attempts, err.Error())
			return nil
		}
		status := domain.AttachmentPending
		if job.Attempts >= a.maxRetries {
			status = domain.AttachmentFailed
		}
		if setErr := a.outbox.SetAttachmentStatus(rec.ID, status, job.Attempts, err.Error()); setErr != nil {
			a.logger.Error("update pending attachment", "attachmentId", rec.ID, "error", setErr)
		}
		return err
	}

	if err := a.outbox.SetAttachmentStatus(rec.ID, domain.AttachmentAttached, job.Attempts, ""); err != nil {
		a.logger.Error("mark attachment done", "attachmentId", rec.ID, "error", err)
	}
	a.logger.Info("deferred co-author attached",
		"chapterId", rec.ChapterID, "attachmentId", rec.ID, "attempts", job.Attempts)
	return nil
}
