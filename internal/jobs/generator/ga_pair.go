package generator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/forge/internal/i18n"
	"github.com/ternarybob/forge/internal/jobs"
	"github.com/ternarybob/forge/internal/models"
	"github.com/ternarybob/forge/internal/prompts"
	"github.com/ternarybob/forge/internal/services/llm"
)

const defaultGaPairCount = 5

// GaPairHandler asks the model for genre/audience pairs per file and
// either appends them (skipping duplicates) or replaces the existing
// set, depending on the request's append mode.
type GaPairHandler struct {
	deps *Deps
}

func NewGaPairHandler(deps *Deps) *GaPairHandler {
	return &GaPairHandler{deps: deps}
}

type gaPairReply struct {
	Genre struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"genre"`
	Audience struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"audience"`
}

func (h *GaPairHandler) Execute(ctx context.Context, job *models.Job) error {
	req, err := models.DecodeGaPairRequest(job.Content)
	if err != nil {
		return err
	}
	count := req.Count
	if count <= 0 {
		count = defaultGaPairCount
	}

	result := &models.JobResult{Progress: models.JobProgress{Total: len(req.FileIDList)}}
	if err := jobs.UpdateJobStatus(ctx, h.deps.Jobs, job, result); err != nil {
		return err
	}

	for _, fileID := range req.FileIDList {
		if err := h.processFile(ctx, job, fileID, count, req.AppendMode); err != nil {
			h.deps.Logger.Warn().Err(err).Str("file_id", fileID).Msg("GA pair generation failed, skipping")
			result.AppendLog(i18n.T(job.Locale, "job.item_failed", fileID, err.Error()))
		} else {
			result.Progress.DoneCount++
			result.AppendLog(fmt.Sprintf("ga pairs generated for file %s", fileID))
		}
		if err := jobs.UpdateJobStatus(ctx, h.deps.Jobs, job, result); err != nil {
			return err
		}
	}
	return nil
}

func (h *GaPairHandler) processFile(ctx context.Context, job *models.Job, fileID string, count int, appendMode bool) error {
	file, err := h.deps.Files.GetFile(ctx, job.GroupID, fileID)
	if err != nil {
		return err
	}

	reply, err := h.deps.LLM.Chat(ctx, prompts.GaPair(job.Locale, file.Content, count))
	if err != nil {
		return err
	}
	doc, err := llm.ExtractJSON(reply)
	if err != nil {
		return err
	}
	var parsed []gaPairReply
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return fmt.Errorf("failed to parse ga pairs: %w", err)
	}

	generated := make([]*models.GAPair, 0, len(parsed))
	for _, p := range parsed {
		generated = append(generated, &models.GAPair{
			BaseEntity:          models.NewBaseEntity(job.UserID, job.GroupID),
			ProjectID:           file.ProjectID,
			FileID:              file.ID,
			GenreTitle:          p.Genre.Title,
			GenreDescription:    p.Genre.Description,
			AudienceTitle:       p.Audience.Title,
			AudienceDescription: p.Audience.Description,
			Enabled:             true,
		})
	}

	if appendMode {
		existing, err := h.deps.GAPairs.ListGAPairsByFile(ctx, job.GroupID, fileID, false)
		if err != nil {
			return err
		}
		fresh := generated[:0]
		for _, pair := range generated {
			duplicate := false
			for _, have := range existing {
				if have.SameQuadruple(pair) {
					duplicate = true
					break
				}
			}
			if !duplicate {
				fresh = append(fresh, pair)
			}
		}
		return h.deps.GAPairs.BulkSaveGAPairs(ctx, fresh)
	}

	if err := h.deps.GAPairs.DeleteGAPairsByFile(ctx, job.GroupID, fileID); err != nil {
		return err
	}
	return h.deps.GAPairs.BulkSaveGAPairs(ctx, generated)
}

func (h *GaPairHandler) Done(job *models.Job) {
	h.deps.Logger.Info().Str("job_id", job.ID).Msg("GA pair job finished")
}
