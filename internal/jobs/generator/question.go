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

// QuestionHandler generates questions per chunk, optionally adapted to
// each enabled genre/audience pair, then labels them against the
// project's tag forest. Prior questions for a chunk are removed first so
// replays do not duplicate rows.
type QuestionHandler struct {
	deps *Deps
}

func NewQuestionHandler(deps *Deps) *QuestionHandler {
	return &QuestionHandler{deps: deps}
}

func (h *QuestionHandler) Execute(ctx context.Context, job *models.Job) error {
	req, err := models.DecodeQuestionRequest(job.Content)
	if err != nil {
		return err
	}

	result := &models.JobResult{Progress: models.JobProgress{Total: len(req.FilePairIDList)}}
	if err := jobs.UpdateJobStatus(ctx, h.deps.Jobs, job, result); err != nil {
		return err
	}

	for _, pairID := range req.FilePairIDList {
		count, err := h.processPair(ctx, job, pairID, req)
		if err != nil {
			h.deps.Logger.Warn().Err(err).Str("file_pair_id", pairID).Msg("Question generation failed, skipping")
			result.AppendLog(i18n.T(job.Locale, "job.item_failed", pairID, err.Error()))
		} else {
			result.Progress.DoneCount++
			result.AppendLog(fmt.Sprintf("%d questions generated for chunk %s", count, pairID))
		}
		if err := jobs.UpdateJobStatus(ctx, h.deps.Jobs, job, result); err != nil {
			return err
		}
	}
	return nil
}

func (h *QuestionHandler) processPair(ctx context.Context, job *models.Job, pairID string, req *models.QuestionRequest) (int, error) {
	pair, err := h.deps.FilePairs.GetFilePair(ctx, job.GroupID, pairID)
	if err != nil {
		return 0, err
	}

	number := req.Number
	if number <= 0 {
		genLength := h.deps.QuestionGenLength
		if genLength <= 0 {
			genLength = 240
		}
		number = len(pair.Content) / genLength
		if number < 1 {
			number = 1
		}
	}

	// regenerate from scratch for this chunk
	if len(pair.QuestionIDList) > 0 {
		if err := h.deps.Questions.BulkDeleteQuestions(ctx, job.GroupID, pair.QuestionIDList); err != nil {
			return 0, err
		}
	}

	var all []generated

	var gaPairs []*models.GAPair
	if req.UseGaGenerator {
		gaPairs, err = h.deps.GAPairs.ListGAPairsByFile(ctx, job.GroupID, pair.FileID, true)
		if err != nil {
			return 0, err
		}
	}

	if len(gaPairs) > 0 {
		for _, ga := range gaPairs {
			prompt := prompts.QuestionWithGA(job.Locale, pair.Content, number,
				ga.GenreTitle, ga.GenreDescription, ga.AudienceTitle, ga.AudienceDescription)
			questions, err := h.askQuestions(ctx, prompt)
			if err != nil {
				return 0, err
			}
			snapshot := *ga
			for _, q := range questions {
				all = append(all, generated{question: q, gaPair: &snapshot})
			}
		}
	} else {
		questions, err := h.askQuestions(ctx, prompts.Question(job.Locale, pair.Content, number))
		if err != nil {
			return 0, err
		}
		for _, q := range questions {
			all = append(all, generated{question: q})
		}
	}

	labels, err := h.labelQuestions(ctx, job, all)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(all))
	for _, g := range all {
		question := &models.Question{
			BaseEntity: models.NewBaseEntity(job.UserID, job.GroupID),
			ProjectID:  pair.ProjectID,
			FileID:     pair.FileID,
			FilePairID: pair.ID,
			Question:   g.question,
			TagLabel:   labels[g.question],
			GAPair:     g.gaPair,
		}
		if err := h.deps.Questions.SaveQuestion(ctx, question); err != nil {
			return 0, err
		}
		ids = append(ids, question.ID)
	}

	pair.QuestionIDList = ids
	if err := h.deps.FilePairs.SaveFilePair(ctx, pair); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (h *QuestionHandler) askQuestions(ctx context.Context, prompt string) ([]string, error) {
	reply, err := h.deps.LLM.Chat(ctx, prompt)
	if err != nil {
		return nil, err
	}
	doc, err := llm.ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	var questions []string
	if err := json.Unmarshal([]byte(doc), &questions); err != nil {
		return nil, fmt.Errorf("failed to parse questions: %w", err)
	}
	return questions, nil
}

// labelQuestions asks the model to tag each question against the
// project forest. Labeling is best-effort: an empty forest or an
// unparseable reply leaves questions unlabeled.
type generated struct {
	question string
	gaPair   *models.GAPair
}

func (h *QuestionHandler) labelQuestions(ctx context.Context, job *models.Job, all []generated) (map[string]string, error) {
	labels := make(map[string]string)
	if len(all) == 0 {
		return labels, nil
	}

	tags, err := h.deps.Tags.ListTagsByProject(ctx, job.GroupID, job.ProjectID)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return labels, nil
	}
	tree, err := tagTreeJSON(tags)
	if err != nil {
		return nil, err
	}

	questions := make([]string, len(all))
	for i, g := range all {
		questions[i] = g.question
	}

	reply, err := h.deps.LLM.Chat(ctx, prompts.TagLabel(job.Locale, questions, tree))
	if err != nil {
		h.deps.Logger.Warn().Err(err).Msg("Tag labeling failed, leaving questions unlabeled")
		return labels, nil
	}
	doc, err := llm.ExtractJSON(reply)
	if err != nil {
		return labels, nil
	}
	var parsed []struct {
		Question string `json:"question"`
		Label    string `json:"label"`
	}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return labels, nil
	}
	for _, p := range parsed {
		labels[p.Question] = p.Label
	}
	return labels, nil
}

func (h *QuestionHandler) Done(job *models.Job) {
	h.deps.Logger.Info().Str("job_id", job.ID).Msg("Question job finished")
}
