package generator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/forge/internal/jobs"
	"github.com/ternarybob/forge/internal/models"
	"github.com/ternarybob/forge/internal/prompts"
	"github.com/ternarybob/forge/internal/services/llm"
)

// TagFlow revises the per-project label forest in response to catalog
// changes. The file-pair and file-delete handlers run it inline; the
// TagHandler runs it as a standalone job.
type TagFlow struct {
	deps *Deps
}

func NewTagFlow(deps *Deps) *TagFlow {
	return &TagFlow{deps: deps}
}

// Apply runs one tag action. Keep no-ops. Rebuild regenerates the
// forest from every catalog in the project. Revise feeds the model the
// current forest plus the TOC entries that were removed and added.
func (f *TagFlow) Apply(ctx context.Context, userID, groupID, projectID, locale string, action models.TocBuildAction, deletedContent, newContent string) error {
	switch action {
	case models.TocActionKeep:
		return nil
	case models.TocActionRebuild:
		return f.rebuild(ctx, userID, groupID, projectID, locale)
	case models.TocActionRevise:
		return f.revise(ctx, userID, groupID, projectID, locale, deletedContent, newContent)
	default:
		return fmt.Errorf("unknown toc build action: %s", action)
	}
}

func (f *TagFlow) rebuild(ctx context.Context, userID, groupID, projectID, locale string) error {
	catalogs, err := f.deps.Catalogs.ListCatalogsByProject(ctx, groupID, projectID)
	if err != nil {
		return err
	}

	tocs := make([]json.RawMessage, 0, len(catalogs))
	for _, catalog := range catalogs {
		if catalog.TocJSON != "" {
			tocs = append(tocs, json.RawMessage(catalog.TocJSON))
		}
	}
	combined, err := json.Marshal(tocs)
	if err != nil {
		return fmt.Errorf("failed to combine catalogs: %w", err)
	}

	reply, err := f.deps.LLM.Chat(ctx, prompts.TagRebuild(locale, string(combined)))
	if err != nil {
		return err
	}
	return f.replaceFromReply(ctx, userID, groupID, projectID, reply)
}

func (f *TagFlow) revise(ctx context.Context, userID, groupID, projectID, locale, deletedContent, newContent string) error {
	tags, err := f.deps.Tags.ListTagsByProject(ctx, groupID, projectID)
	if err != nil {
		return err
	}
	currentTree, err := tagTreeJSON(tags)
	if err != nil {
		return err
	}

	reply, err := f.deps.LLM.Chat(ctx, prompts.TagRevise(locale, currentTree, deletedContent, newContent))
	if err != nil {
		return err
	}
	return f.replaceFromReply(ctx, userID, groupID, projectID, reply)
}

func (f *TagFlow) replaceFromReply(ctx context.Context, userID, groupID, projectID, reply string) error {
	doc, err := llm.ExtractJSON(reply)
	if err != nil {
		return err
	}
	var nodes []TagNode
	if err := json.Unmarshal([]byte(doc), &nodes); err != nil {
		return fmt.Errorf("failed to parse tag tree: %w", err)
	}

	tags := tagsFromTree(nodes, userID, groupID, projectID)
	return f.deps.Tags.ReplaceProjectTags(ctx, groupID, projectID, tags)
}

// TagHandler runs a standalone tag revision job
type TagHandler struct {
	deps *Deps
	flow *TagFlow
}

func NewTagHandler(deps *Deps) *TagHandler {
	return &TagHandler{deps: deps, flow: NewTagFlow(deps)}
}

func (h *TagHandler) Execute(ctx context.Context, job *models.Job) error {
	req, err := models.DecodeTagRequest(job.Content)
	if err != nil {
		return err
	}

	result := &models.JobResult{Progress: models.JobProgress{Total: 1}}
	result.AppendLog("revising tag tree")
	if err := jobs.UpdateJobStatus(ctx, h.deps.Jobs, job, result); err != nil {
		return err
	}

	if err := h.flow.Apply(ctx, job.UserID, job.GroupID, req.ProjectID, job.Locale, req.TocBuildAction, req.DeletedContent, req.NewContent); err != nil {
		return err
	}

	result.Progress.DoneCount = 1
	result.AppendLog("tag tree updated")
	return jobs.UpdateJobStatus(ctx, h.deps.Jobs, job, result)
}

func (h *TagHandler) Done(job *models.Job) {
	h.deps.Logger.Info().Str("job_id", job.ID).Msg("Tag job finished")
}
