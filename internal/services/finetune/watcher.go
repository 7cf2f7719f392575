package finetune

import (
	"context"
	"time"

	"github.com/ternarybob/forge/internal/i18n"
	"github.com/ternarybob/forge/internal/interfaces"
	"github.com/ternarybob/forge/internal/models"
)

// watch polls one node's training unit until the job converges. Every
// tick re-reads the job and probes the unit: a node that finished
// successfully is still counted even after a sibling failure or a
// cancel has made the job terminal, so DoneNodeNum reflects every
// completed node.
func (s *Service) watch(ctx context.Context, jobID string, node *models.Machine) {
	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err := s.jobs.GetFinetuneJob(ctx, jobID)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to re-read job")
			continue
		}

		machine := s.connect(node)
		state, detail, err := machine.MonitorServiceStatus(ctx, jobID)
		machine.Close()
		if err != nil {
			if job.IsTerminal() {
				s.removeUnit(ctx, jobID, node)
				return
			}
			failures++
			s.logger.Warn().Err(err).Str("job_id", jobID).Str("node", node.IP).Int("failures", failures).Msg("Node probe failed")
			if failures > s.maxConnectFailures {
				s.transition(jobID, func(j *models.FinetuneJob) {
					j.Status = models.FinetuneStatusError
					j.ErrorInfo = i18n.T(j.Locale, "finetune.connect_failed", s.maxConnectFailures)
					j.EndAt = time.Now().Unix()
				})
				s.removeUnit(ctx, jobID, node)
				return
			}
			continue
		}
		failures = 0

		switch state {
		case interfaces.ServiceStateStarting:
			// still training; a terminal job means a sibling failed or
			// the job was cancelled, so stop the local unit and leave
			if job.IsTerminal() {
				s.removeUnit(ctx, jobID, node)
				return
			}

		case interfaces.ServiceStateSuccess:
			s.downloadNodeLog(ctx, jobID, node)
			s.finishNode(ctx, jobID, node)
			s.removeUnit(ctx, jobID, node)
			return

		case interfaces.ServiceStateFailed:
			s.downloadNodeLog(ctx, jobID, node)
			s.transition(jobID, func(j *models.FinetuneJob) {
				if j.IsTerminal() {
					return
				}
				j.Status = models.FinetuneStatusFailed
				j.ErrorInfo = detail
				j.EndAt = time.Now().Unix()
			})
			s.removeUnit(ctx, jobID, node)
			return

		case interfaces.ServiceStateError:
			s.transition(jobID, func(j *models.FinetuneJob) {
				if j.IsTerminal() {
					return
				}
				j.Status = models.FinetuneStatusError
				j.ErrorInfo = detail
				j.EndAt = time.Now().Unix()
			})
			s.removeUnit(ctx, jobID, node)
			return
		}
	}
}

// finishNode records one node's completion. Increments are serialized
// by the store, so exactly one watcher observes the count reaching the
// node total and performs finalization.
func (s *Service) finishNode(ctx context.Context, jobID string, node *models.Machine) {
	updated, err := s.jobs.UpdateFinetuneJob(ctx, jobID, func(j *models.FinetuneJob) error {
		j.DoneNodeNum++
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to record node completion")
		return
	}
	if updated.DoneNodeNum < updated.NodeCount() || updated.Status != models.FinetuneStatusStarting {
		return
	}

	claimed, err := s.jobs.UpdateFinetuneJob(ctx, jobID, func(j *models.FinetuneJob) error {
		if j.Status != models.FinetuneStatusStarting {
			return models.NewValidationError("job %s already finalized", jobID)
		}
		j.Status = models.FinetuneStatusSuccess
		j.EndAt = time.Now().Unix()
		return nil
	})
	if err != nil {
		return
	}
	s.publishRelease(ctx, claimed)
}

// publishRelease packs the master's output, downloads it, and publishes
// the artifact row.
func (s *Service) publishRelease(ctx context.Context, job *models.FinetuneJob) {
	master := s.connect(job.Master())
	defer master.Close()

	result, err := master.ExecuteCommand(ctx, tarOutputCommand(job, s.layout), tarTimeout)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to pack training output")
		return
	}
	if result.ExitCode != 0 {
		s.logger.Error().Str("job_id", job.ID).Int("exit", result.ExitCode).Str("stderr", result.Stderr).Msg("Output packing exited non-zero")
		return
	}

	localTar := s.layout.LocalModelTar(job.ID)
	if err := master.DownloadFile(ctx, s.layout.JobModelTar(job.ID), localTar); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to download model tarball")
		return
	}

	baseModel := ""
	if config := job.ConfigByType(models.ConfigTypeModelArguments); config != nil {
		if args, err := config.DecodeArgs(); err == nil {
			if name, ok := args["model_name_or_path"].(string); ok {
				baseModel = name
			}
		}
	}

	release := &models.Release{
		BaseEntity:        models.NewBaseEntity(job.UserID, job.GroupID),
		Name:              job.Name,
		Stage:             job.Stage,
		FinetuneJobID:     job.ID,
		FinetuneModelPath: localTar,
		BaseModel:         baseModel,
		FinetuneMethod:    job.FinetuneMethod,
	}
	if err := s.releases.SaveRelease(ctx, release); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save release")
		return
	}
	s.transition(job.ID, func(j *models.FinetuneJob) {
		j.ReleaseID = release.ID
	})
	s.logger.Info().Str("job_id", job.ID).Str("release_id", release.ID).Msg("Release published")
}

func (s *Service) downloadNodeLog(ctx context.Context, jobID string, node *models.Machine) {
	machine := s.connect(node)
	defer machine.Close()
	local := s.layout.LocalNodeRunLog(jobID, node.ID)
	if err := machine.DownloadFile(ctx, s.layout.JobRunLog(jobID), local); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("node", node.IP).Msg("Failed to download run log")
	}
}

func (s *Service) removeUnit(ctx context.Context, jobID string, node *models.Machine) {
	machine := s.connect(node)
	defer machine.Close()
	if _, err := machine.ExecuteCommand(ctx, removeUnitCommand(jobID), startTimeout); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("node", node.IP).Msg("Failed to remove unit")
	}
}
