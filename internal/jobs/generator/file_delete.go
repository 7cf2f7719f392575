package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/forge/internal/i18n"
	"github.com/ternarybob/forge/internal/jobs"
	"github.com/ternarybob/forge/internal/models"
)

// FileDeleteHandler removes a file's derived rows and feeds its lost
// table of contents into the tag revision. The catalog row is deleted
// only after the model call, which consumes the current catalog set.
type FileDeleteHandler struct {
	deps *Deps
	flow *TagFlow
}

func NewFileDeleteHandler(deps *Deps) *FileDeleteHandler {
	return &FileDeleteHandler{deps: deps, flow: NewTagFlow(deps)}
}

func (h *FileDeleteHandler) Execute(ctx context.Context, job *models.Job) error {
	req, err := models.DecodeFileDeleteRequest(job.Content)
	if err != nil {
		return err
	}

	result := &models.JobResult{Progress: models.JobProgress{Total: len(req.FileIDList)}}
	if err := jobs.UpdateJobStatus(ctx, h.deps.Jobs, job, result); err != nil {
		return err
	}

	for _, fileID := range req.FileIDList {
		if err := h.processFile(ctx, job, fileID); err != nil {
			h.deps.Logger.Warn().Err(err).Str("file_id", fileID).Msg("File removal failed, skipping")
			result.AppendLog(i18n.T(job.Locale, "job.item_failed", fileID, err.Error()))
		} else {
			result.Progress.DoneCount++
			result.AppendLog(fmt.Sprintf("file %s removed", fileID))
		}
		if err := jobs.UpdateJobStatus(ctx, h.deps.Jobs, job, result); err != nil {
			return err
		}
	}
	return nil
}

func (h *FileDeleteHandler) processFile(ctx context.Context, job *models.Job, fileID string) error {
	deletedToc := ""
	catalog, err := h.deps.Catalogs.GetCatalogByFile(ctx, job.GroupID, fileID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	if catalog != nil {
		deletedToc = catalog.TocJSON
	}

	if deletedToc != "" {
		if err := h.flow.Apply(ctx, job.UserID, job.GroupID, job.ProjectID, job.Locale, models.TocActionRevise, deletedToc, ""); err != nil {
			return err
		}
	}

	// Catalog goes last; the revision above consumed it.
	if err := h.deps.Catalogs.DeleteCatalogsByFile(ctx, job.GroupID, fileID); err != nil {
		return err
	}

	// Cascade is explicit per relation, never a single primitive.
	if err := h.deps.Datasets.DeleteDatasetsByFile(ctx, job.GroupID, fileID); err != nil {
		return err
	}
	if err := h.deps.Questions.DeleteQuestionsByFile(ctx, job.GroupID, fileID); err != nil {
		return err
	}
	if err := h.deps.FilePairs.DeleteFilePairsByFile(ctx, job.GroupID, fileID); err != nil {
		return err
	}
	if err := h.deps.GAPairs.DeleteGAPairsByFile(ctx, job.GroupID, fileID); err != nil {
		return err
	}
	return nil
}

func (h *FileDeleteHandler) Done(job *models.Job) {
	h.deps.Logger.Info().Str("job_id", job.ID).Msg("File delete job finished")
}
