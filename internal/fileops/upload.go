package fileops

import (
	"context"
	"fmt"

	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/events"
	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/models"
	"github.com/portalworks/docbrowse/internal/transfer"
	"github.com/portalworks/docbrowse/internal/validation"
)

// Upload sends files to target one at a time. A failed file does not stop
// the batch. When every task is terminal a summary notification is published,
// the summary is dismissed after UploadDismissDelay and the current path is
// reloaded from the gateway.
func (p *Pipeline) Upload(ctx context.Context, target string, files []UploadSource) (*transfer.Batch, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	target = models.NormalizePath(target)

	infos := make([]transfer.FileInfo, len(files))
	for i, f := range files {
		infos[i] = transfer.FileInfo{Name: f.Name, Size: f.Size}
	}
	batch := transfer.NewBatch(target, infos, p.bus, p.clock)

	p.mu.Lock()
	p.stopDismissLocked()
	p.batch = batch
	p.mu.Unlock()

	p.logger.Info().Str("path", target).Int("files", len(files)).Str("batch", batch.ID).Msg("Starting upload batch")

	tasks := batch.Tasks()
	for i := range tasks {
		task := &tasks[i]
		err := p.uploadOne(ctx, batch, task.ID, target, files[i])
		p.metrics.RecordUpload(files[i].Size, err == nil)
		if err != nil {
			_ = batch.Fail(task.ID, err)
			p.logger.Warn().Str("file", files[i].Name).Err(err).Msg("Upload failed")
			continue
		}
		_ = batch.Complete(task.ID)
	}

	summary, _ := batch.Finish()
	p.notifySummary(target, summary)

	p.mu.Lock()
	if p.batch == batch {
		p.wg.Add(1)
		p.dismiss = p.clock.AfterFunc(constants.UploadDismissDelay, func() {
			defer p.wg.Done()
			batch.Dismiss()
		})
	}
	p.mu.Unlock()

	p.cache.InvalidateDirectory(ctx, target)
	p.reload(ctx)
	return batch, nil
}

func (p *Pipeline) uploadOne(ctx context.Context, batch *transfer.Batch, taskID, target string, src UploadSource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := validation.ValidateName(src.Name); err != nil {
		return gateway.NewError(gateway.KindValidation, "upload", err)
	}
	if src.Open == nil {
		return fmt.Errorf("no content for %s", src.Name)
	}

	rc, err := src.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src.Name, err)
	}
	defer rc.Close()

	_ = batch.Start(taskID)
	return p.gw.Upload(ctx, target, src.Name, src.Size, rc, func(percent int) {
		_ = batch.UpdateProgress(taskID, percent)
	})
}

func (p *Pipeline) notifySummary(target string, s transfer.Summary) {
	level := events.NotifySuccess
	switch {
	case s.Failed == s.Total:
		level = events.NotifyError
	case s.Failed > 0:
		level = events.NotifyWarn
	}

	msg := fmt.Sprintf("Uploaded %d of %d files to %s", s.Succeeded, s.Total, target)
	if s.Failed > 0 {
		msg = fmt.Sprintf("%s, %d failed", msg, s.Failed)
	}
	kind := ""
	if s.Failed > 0 {
		kind = gateway.KindOperationFailed.String()
	}
	p.bus.Notify(level, "upload", msg, kind, nil)
}

// CurrentBatch returns the most recent upload batch, or nil
func (p *Pipeline) CurrentBatch() *transfer.Batch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batch
}

// Wait blocks until scheduled summary dismissals have run
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close cancels a scheduled dismissal
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.stopDismissLocked()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pipeline) stopDismissLocked() {
	if p.dismiss != nil && p.dismiss.Stop() {
		p.wg.Done()
	}
	p.dismiss = nil
}
