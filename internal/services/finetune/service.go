// Package finetune orchestrates multi-node training jobs: it stages
// datasets and configs onto the machines, runs the trainer under
// transient systemd units, and watches every node until the job
// converges on a terminal state.
package finetune

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/forge/internal/i18n"
	"github.com/ternarybob/forge/internal/interfaces"
	"github.com/ternarybob/forge/internal/models"
	"github.com/ternarybob/forge/internal/remote/paths"
)

const (
	startTimeout = 180 * time.Second
	tarTimeout   = 3600 * time.Second
)

// DatasetStager stages a dataset version's JSON form for upload
type DatasetStager interface {
	StageJSON(versionID string) (string, error)
}

// Service drives the training job lifecycle
type Service struct {
	jobs     interfaces.FinetuneJobStorage
	releases interfaces.ReleaseStorage
	stager   DatasetStager
	connect  interfaces.MachineConnector
	layout   paths.Layout
	logger   arbor.ILogger

	watchInterval      time.Duration
	maxConnectFailures int

	// watchers tracks running watcher goroutines per job for shutdown
	wg sync.WaitGroup
}

type Options struct {
	WatchInterval      time.Duration
	MaxConnectFailures int
}

func NewService(jobs interfaces.FinetuneJobStorage, releases interfaces.ReleaseStorage, stager DatasetStager, connect interfaces.MachineConnector, layout paths.Layout, opts Options, logger arbor.ILogger) *Service {
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = 10 * time.Second
	}
	if opts.MaxConnectFailures <= 0 {
		opts.MaxConnectFailures = 10
	}
	return &Service{
		jobs:               jobs,
		releases:           releases,
		stager:             stager,
		connect:            connect,
		layout:             layout,
		logger:             logger.WithPrefix("finetune"),
		watchInterval:      opts.WatchInterval,
		maxConnectFailures: opts.MaxConnectFailures,
	}
}

// CreateInput is the caller-facing shape of a job request. The dataset
// version, configs and machines are snapshotted at creation.
type CreateInput struct {
	UserID         string
	GroupID        string
	Name           string
	Stage          models.DatasetType
	FinetuneMethod string
	DatasetVersion *models.DatasetVersion
	Configs        []*models.FinetuneConfig
	Machines       []*models.Machine
	Locale         string
}

// Create validates the request, snapshots its inputs and kicks off
// asynchronous initialization.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.FinetuneJob, error) {
	if in.Stage != models.DatasetTypeSFT {
		return nil, models.NewValidationError("%s", i18n.T(in.Locale, "finetune.stage_unsupported"))
	}
	if in.DatasetVersion == nil {
		return nil, models.NewValidationError("dataset version is required")
	}
	if len(in.Machines) == 0 {
		return nil, models.NewValidationError("at least one machine is required")
	}
	for _, config := range in.Configs {
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}
	if needsDeepspeed(in.Machines) && !hasDeepspeed(in.Configs) {
		return nil, models.NewValidationError("%s", i18n.T(in.Locale, "finetune.deepspeed_needed"))
	}

	job := &models.FinetuneJob{
		BaseEntity:     models.NewBaseEntity(in.UserID, in.GroupID),
		Name:           in.Name,
		Status:         models.FinetuneStatusInitializing,
		Stage:          in.Stage,
		FinetuneMethod: in.FinetuneMethod,
		DatasetVersion: in.DatasetVersion,
		Locale:         in.Locale,
	}
	for _, config := range in.Configs {
		job.FinetuneConfigList = append(job.FinetuneConfigList, config.Clone())
	}
	for _, machine := range in.Machines {
		job.NodeMachineList = append(job.NodeMachineList, machine.Clone())
	}

	if err := s.jobs.SaveFinetuneJob(ctx, job); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.initialize(context.Background(), job.ID)
	}()
	return job, nil
}

func needsDeepspeed(machines []*models.Machine) bool {
	if len(machines) > 1 {
		return true
	}
	return machines[0].GPUCount > 1
}

func hasDeepspeed(configs []*models.FinetuneConfig) bool {
	for _, config := range configs {
		if config.Type == models.ConfigTypeDeepspeedArguments {
			return true
		}
	}
	return false
}

// initialize stages the dataset and configs onto every node. The job
// moves to Init on success and Error on any failure.
func (s *Service) initialize(ctx context.Context, jobID string) {
	job, err := s.jobs.GetFinetuneJob(ctx, jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job for initialization")
		return
	}

	if err := s.stageNodes(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Initialization failed")
		s.transition(jobID, func(j *models.FinetuneJob) {
			j.Status = models.FinetuneStatusError
			j.ErrorInfo = err.Error()
			j.EndAt = time.Now().Unix()
		})
		return
	}

	s.transition(jobID, func(j *models.FinetuneJob) {
		j.Status = models.FinetuneStatusInit
	})
	s.logger.Info().Str("job_id", jobID).Msg("Job initialized")
}

func (s *Service) stageNodes(ctx context.Context, job *models.FinetuneJob) error {
	jsonPath, err := s.stager.StageJSON(job.DatasetVersion.ID)
	if err != nil {
		return err
	}

	infoData, err := datasetInfoJSON(job.DatasetVersion.ID)
	if err != nil {
		return err
	}
	withDeepspeed := job.ConfigByType(models.ConfigTypeDeepspeedArguments) != nil
	yamlData, err := trainYAML(job, s.layout, withDeepspeed)
	if err != nil {
		return err
	}
	dsData, err := deepspeedJSON(job)
	if err != nil {
		return err
	}

	scratch, err := os.MkdirTemp("", "forge-finetune-")
	if err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	infoPath := filepath.Join(scratch, "dataset_info.json")
	yamlPath := filepath.Join(scratch, "config.yaml")
	dsPath := filepath.Join(scratch, "deepspeed.json")
	if err := os.WriteFile(infoPath, infoData, 0o644); err != nil {
		return fmt.Errorf("failed to write dataset info: %w", err)
	}
	if err := os.WriteFile(yamlPath, yamlData, 0o644); err != nil {
		return fmt.Errorf("failed to write train config: %w", err)
	}
	if dsData != nil {
		if err := os.WriteFile(dsPath, dsData, 0o644); err != nil {
			return fmt.Errorf("failed to write deepspeed config: %w", err)
		}
	}

	for _, node := range job.NodeMachineList {
		machine := s.connect(node)
		if err := machine.TestConnection(ctx); err != nil {
			return fmt.Errorf("node %s unreachable: %w", node.IP, err)
		}

		// the dataset file is content-addressed by version id, so an
		// existing copy is trusted and not re-uploaded
		if err := machine.UploadFileWithDirs(ctx, jsonPath, s.layout.DatasetFile(job.DatasetVersion.ID), false); err != nil {
			return fmt.Errorf("failed to upload dataset to %s: %w", node.IP, err)
		}
		if err := machine.UploadFileWithDirs(ctx, infoPath, s.layout.DatasetInfoFile(job.ID), true); err != nil {
			return fmt.Errorf("failed to upload dataset info to %s: %w", node.IP, err)
		}
		if err := machine.UploadFileWithDirs(ctx, yamlPath, s.layout.JobTrainConfig(job.ID), true); err != nil {
			return fmt.Errorf("failed to upload train config to %s: %w", node.IP, err)
		}
		if dsData != nil {
			if err := machine.UploadFileWithDirs(ctx, dsPath, s.layout.JobDeepspeedConfig(job.ID), true); err != nil {
				return fmt.Errorf("failed to upload deepspeed config to %s: %w", node.IP, err)
			}
		}
		machine.Close()
	}
	return nil
}

// Start installs and launches the training unit on every node and
// spawns one watcher per node.
func (s *Service) Start(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetFinetuneJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.FinetuneStatusInit {
		return models.NewValidationError("job %s is %s, not startable", jobID, job.Status)
	}

	for rank, node := range job.NodeMachineList {
		machine := s.connect(node)
		result, err := machine.ExecuteCommand(ctx, installUnitCommand(job, rank, s.layout), startTimeout)
		if err != nil {
			return fmt.Errorf("failed to install unit on %s: %w", node.IP, err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("unit install exited %d on %s: %s", result.ExitCode, node.IP, result.Stderr)
		}
		result, err = machine.ExecuteCommand(ctx, fmt.Sprintf("systemctl start %s", unitName(job.ID)), startTimeout)
		if err != nil {
			return fmt.Errorf("failed to start unit on %s: %w", node.IP, err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("unit start exited %d on %s: %s", result.ExitCode, node.IP, result.Stderr)
		}
		machine.Close()
	}

	if _, err := s.jobs.UpdateFinetuneJob(ctx, jobID, func(j *models.FinetuneJob) error {
		j.Status = models.FinetuneStatusStarting
		j.StartAt = time.Now().Unix()
		return nil
	}); err != nil {
		return err
	}

	s.spawnWatchers(job)
	s.logger.Info().Str("job_id", jobID).Int("nodes", job.NodeCount()).Msg("Training started")
	return nil
}

// Cancel moves a running job to Cancel and stops the units. Watchers
// observe the terminal status on their next tick and exit.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.UpdateFinetuneJob(ctx, jobID, func(j *models.FinetuneJob) error {
		if j.IsTerminal() {
			return models.NewValidationError("job %s already finished", jobID)
		}
		j.Status = models.FinetuneStatusCancel
		j.EndAt = time.Now().Unix()
		return nil
	})
	if err != nil {
		return err
	}

	for _, node := range job.NodeMachineList {
		machine := s.connect(node)
		if _, err := machine.ExecuteCommand(ctx, removeUnitCommand(job.ID), startTimeout); err != nil {
			s.logger.Warn().Err(err).Str("node", node.IP).Msg("Failed to remove unit during cancel")
		}
		machine.Close()
	}
	return nil
}

// Recover respawns watchers for jobs that were running when the process
// stopped. Jobs caught mid-initialization lost their goroutine and are
// marked Error.
func (s *Service) Recover(ctx context.Context) error {
	starting, err := s.jobs.ListFinetuneJobsByStatus(ctx, models.FinetuneStatusStarting)
	if err != nil {
		return err
	}
	for _, job := range starting {
		s.spawnWatchers(job)
		s.logger.Info().Str("job_id", job.ID).Int("nodes", job.NodeCount()).Msg("Watchers recovered")
	}

	initializing, err := s.jobs.ListFinetuneJobsByStatus(ctx, models.FinetuneStatusInitializing)
	if err != nil {
		return err
	}
	for _, job := range initializing {
		s.transition(job.ID, func(j *models.FinetuneJob) {
			j.Status = models.FinetuneStatusError
			j.ErrorInfo = "initialization interrupted by restart"
			j.EndAt = time.Now().Unix()
		})
	}
	return nil
}

// Wait blocks until every background goroutine has exited
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) spawnWatchers(job *models.FinetuneJob) {
	for _, node := range job.NodeMachineList {
		node := node
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watch(context.Background(), job.ID, node)
		}()
	}
}

// transition applies a best-effort status mutation outside a request
func (s *Service) transition(jobID string, apply func(*models.FinetuneJob)) {
	if _, err := s.jobs.UpdateFinetuneJob(context.Background(), jobID, func(j *models.FinetuneJob) error {
		apply(j)
		return nil
	}); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to update job status")
	}
}
