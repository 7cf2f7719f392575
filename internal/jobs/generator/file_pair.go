package generator

import (
	"context"
	"fmt"

	"github.com/ternarybob/forge/internal/i18n"
	"github.com/ternarybob/forge/internal/jobs"
	"github.com/ternarybob/forge/internal/models"
	"github.com/ternarybob/forge/internal/services/split"
)

// FilePairHandler chunks source files, rebuilds their catalogs, and
// triggers the tag sub-flow. Re-running a file is safe: prior chunks are
// soft-deleted before regeneration.
type FilePairHandler struct {
	deps *Deps
	flow *TagFlow
}

func NewFilePairHandler(deps *Deps) *FilePairHandler {
	return &FilePairHandler{deps: deps, flow: NewTagFlow(deps)}
}

func (h *FilePairHandler) Execute(ctx context.Context, job *models.Job) error {
	req, err := models.DecodeFilePairRequest(job.Content)
	if err != nil {
		return err
	}

	result := &models.JobResult{Progress: models.JobProgress{Total: len(req.FileIDList)}}
	if err := jobs.UpdateJobStatus(ctx, h.deps.Jobs, job, result); err != nil {
		return err
	}

	for _, fileID := range req.FileIDList {
		newToc, err := h.processFile(ctx, job, fileID, req)
		if err != nil {
			h.deps.Logger.Warn().Err(err).Str("file_id", fileID).Msg("File chunking failed, skipping")
			result.AppendLog(i18n.T(job.Locale, "job.item_failed", fileID, err.Error()))
		} else {
			result.Progress.DoneCount++
			result.AppendLog(fmt.Sprintf("file %s chunked", fileID))

			if req.TocBuildAction != models.TocActionKeep {
				if err := h.flow.Apply(ctx, job.UserID, job.GroupID, job.ProjectID, job.Locale, req.TocBuildAction, "", newToc); err != nil {
					result.AppendLog(i18n.T(job.Locale, "job.item_failed", fileID, err.Error()))
				}
			}
		}
		if err := jobs.UpdateJobStatus(ctx, h.deps.Jobs, job, result); err != nil {
			return err
		}
	}
	return nil
}

// processFile replaces the file's chunks and catalog, returning the new
// TOC JSON for the tag revision.
func (h *FilePairHandler) processFile(ctx context.Context, job *models.Job, fileID string, req *models.FilePairRequest) (string, error) {
	file, err := h.deps.Files.GetFile(ctx, job.GroupID, fileID)
	if err != nil {
		return "", err
	}

	if err := h.deps.FilePairs.DeleteFilePairsByFile(ctx, job.GroupID, fileID); err != nil {
		return "", err
	}

	items, err := split.Split(req.SplitType, file.Name, file.Content, req.ChunkSize)
	if err != nil {
		return "", err
	}

	pairs := make([]*models.FilePair, len(items))
	for i, item := range items {
		pairs[i] = &models.FilePair{
			BaseEntity:     models.NewBaseEntity(job.UserID, job.GroupID),
			ProjectID:      file.ProjectID,
			FileID:         file.ID,
			Name:           item.Name,
			Content:        item.Content,
			Summary:        item.Summary,
			Size:           item.Size,
			ChunkIndex:     item.ChunkIndex,
			QuestionIDList: []string{},
		}
	}
	if err := h.deps.FilePairs.BulkSaveFilePairs(ctx, pairs); err != nil {
		return "", err
	}

	toc := split.ExtractTOC(file.Content)
	tocJSON, err := split.TOCJSON(toc)
	if err != nil {
		return "", err
	}
	catalog := &models.Catalog{
		BaseEntity: models.NewBaseEntity(job.UserID, job.GroupID),
		ProjectID:  file.ProjectID,
		FileID:     file.ID,
		TocJSON:    tocJSON,
	}
	if err := h.deps.Catalogs.UpsertCatalog(ctx, catalog); err != nil {
		return "", err
	}
	return tocJSON, nil
}

func (h *FilePairHandler) Done(job *models.Job) {
	h.deps.Logger.Info().Str("job_id", job.ID).Msg("File pair job finished")
}
