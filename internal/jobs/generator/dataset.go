package generator

import (
	"context"
	"fmt"

	"github.com/ternarybob/forge/internal/i18n"
	"github.com/ternarybob/forge/internal/jobs"
	"github.com/ternarybob/forge/internal/models"
	"github.com/ternarybob/forge/internal/prompts"
)

// DatasetHandler answers generated questions in CoT mode. When the
// question carries a genre/audience snapshot the styled answer prompt
// is used; a non-empty chain of thought gets one optimization pass.
type DatasetHandler struct {
	deps *Deps
}

func NewDatasetHandler(deps *Deps) *DatasetHandler {
	return &DatasetHandler{deps: deps}
}

func (h *DatasetHandler) Execute(ctx context.Context, job *models.Job) error {
	req, err := models.DecodeDatasetRequest(job.Content)
	if err != nil {
		return err
	}

	result := &models.JobResult{Progress: models.JobProgress{Total: len(req.QuestionIDList)}}
	if err := jobs.UpdateJobStatus(ctx, h.deps.Jobs, job, result); err != nil {
		return err
	}

	for _, questionID := range req.QuestionIDList {
		if err := h.processQuestion(ctx, job, questionID); err != nil {
			h.deps.Logger.Warn().Err(err).Str("question_id", questionID).Msg("Answer generation failed, skipping")
			result.AppendLog(i18n.T(job.Locale, "job.item_failed", questionID, err.Error()))
		} else {
			result.Progress.DoneCount++
			result.AppendLog(fmt.Sprintf("answer generated for question %s", questionID))
		}
		if err := jobs.UpdateJobStatus(ctx, h.deps.Jobs, job, result); err != nil {
			return err
		}
	}
	return nil
}

func (h *DatasetHandler) processQuestion(ctx context.Context, job *models.Job, questionID string) error {
	question, err := h.deps.Questions.GetQuestion(ctx, job.GroupID, questionID)
	if err != nil {
		return err
	}
	pair, err := h.deps.FilePairs.GetFilePair(ctx, job.GroupID, question.FilePairID)
	if err != nil {
		return err
	}

	var prompt string
	if ga := question.GAPair; ga != nil {
		prompt = prompts.AnswerWithGA(job.Locale, pair.Content, question.Question,
			ga.GenreTitle, ga.GenreDescription, ga.AudienceTitle, ga.AudienceDescription)
	} else {
		prompt = prompts.Answer(job.Locale, pair.Content, question.Question)
	}

	reply, err := h.deps.LLM.ChatCoT(ctx, prompt)
	if err != nil {
		return err
	}

	cot := reply.Cot
	if cot != "" {
		optimized, err := h.deps.LLM.Chat(ctx, prompts.CotOptimize(job.Locale, question.Question, reply.Answer, cot))
		if err == nil && optimized != "" {
			cot = optimized
		}
	}

	// replaying a question replaces its previous answer
	if err := h.deps.Datasets.DeleteDatasetsByQuestion(ctx, job.GroupID, questionID); err != nil {
		return err
	}

	dataset := &models.Dataset{
		BaseEntity: models.NewBaseEntity(job.UserID, job.GroupID),
		ProjectID:  question.ProjectID,
		QuestionID: question.ID,
		FilePairID: pair.ID,
		Question:   question.Question,
		Answer:     reply.Answer,
		Cot:        cot,
	}
	if err := h.deps.Datasets.SaveDataset(ctx, dataset); err != nil {
		return err
	}

	question.HasDataset = true
	return h.deps.Questions.SaveQuestion(ctx, question)
}

func (h *DatasetHandler) Done(job *models.Job) {
	h.deps.Logger.Info().Str("job_id", job.ID).Msg("Dataset job finished")
}
