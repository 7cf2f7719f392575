package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/forge/internal/interfaces"
	"github.com/ternarybob/forge/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DatasetVersionStorage implements dataset version persistence for Badger
type DatasetVersionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewDatasetVersionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DatasetVersionStorage {
	return &DatasetVersionStorage{db: db, logger: logger}
}

func (s *DatasetVersionStorage) SaveDatasetVersion(ctx context.Context, version *models.DatasetVersion) error {
	version.Touch()
	if err := s.db.Store().Upsert(version.ID, version); err != nil {
		return fmt.Errorf("failed to save dataset version: %w", err)
	}
	return nil
}

func (s *DatasetVersionStorage) GetDatasetVersion(ctx context.Context, groupID, versionID string) (*models.DatasetVersion, error) {
	var version models.DatasetVersion
	if err := s.db.Store().Get(versionID, &version); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dataset version: %w", err)
	}
	if !version.IsLive() || (groupID != "" && version.GroupID != groupID) {
		return nil, models.ErrNotFound
	}
	return &version, nil
}

func (s *DatasetVersionStorage) ListDatasetVersions(ctx context.Context, groupID, projectID string) ([]*models.DatasetVersion, error) {
	var versions []models.DatasetVersion
	if err := s.db.Store().Find(&versions, liveQuery("ProjectID", projectID, groupID).SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list dataset versions: %w", err)
	}
	result := make([]*models.DatasetVersion, len(versions))
	for i := range versions {
		result[i] = &versions[i]
	}
	return result, nil
}

// MachineStorage implements remote host persistence for Badger
type MachineStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewMachineStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MachineStorage {
	return &MachineStorage{db: db, logger: logger}
}

func (s *MachineStorage) SaveMachine(ctx context.Context, machine *models.Machine) error {
	machine.Touch()
	if err := s.db.Store().Upsert(machine.ID, machine); err != nil {
		return fmt.Errorf("failed to save machine: %w", err)
	}
	return nil
}

func (s *MachineStorage) GetMachine(ctx context.Context, groupID, machineID string) (*models.Machine, error) {
	var machine models.Machine
	if err := s.db.Store().Get(machineID, &machine); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get machine: %w", err)
	}
	if !machine.IsLive() || (groupID != "" && machine.GroupID != groupID) {
		return nil, models.ErrNotFound
	}
	return &machine, nil
}

func (s *MachineStorage) ListMachines(ctx context.Context, groupID string) ([]*models.Machine, error) {
	var machines []models.Machine
	query := badgerhold.Where("GroupID").Eq(groupID).And("IsDeleted").Eq(int64(0))
	if err := s.db.Store().Find(&machines, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	result := make([]*models.Machine, len(machines))
	for i := range machines {
		result[i] = &machines[i]
	}
	return result, nil
}

// FinetuneConfigStorage implements hyperparameter group persistence
type FinetuneConfigStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewFinetuneConfigStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FinetuneConfigStorage {
	return &FinetuneConfigStorage{db: db, logger: logger}
}

func (s *FinetuneConfigStorage) SaveFinetuneConfig(ctx context.Context, config *models.FinetuneConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	config.Touch()
	if err := s.db.Store().Upsert(config.ID, config); err != nil {
		return fmt.Errorf("failed to save finetune config: %w", err)
	}
	return nil
}

func (s *FinetuneConfigStorage) GetFinetuneConfig(ctx context.Context, groupID, configID string) (*models.FinetuneConfig, error) {
	var config models.FinetuneConfig
	if err := s.db.Store().Get(configID, &config); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get finetune config: %w", err)
	}
	if !config.IsLive() || (groupID != "" && config.GroupID != groupID) {
		return nil, models.ErrNotFound
	}
	return &config, nil
}

func (s *FinetuneConfigStorage) ListFinetuneConfigs(ctx context.Context, groupID string) ([]*models.FinetuneConfig, error) {
	var configs []models.FinetuneConfig
	query := badgerhold.Where("GroupID").Eq(groupID).And("IsDeleted").Eq(int64(0))
	if err := s.db.Store().Find(&configs, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list finetune configs: %w", err)
	}
	result := make([]*models.FinetuneConfig, len(configs))
	for i := range configs {
		result[i] = &configs[i]
	}
	return result, nil
}

// FinetuneJobStorage implements training job persistence. The mutate
// path is serialized by a store-level mutex so concurrent node watchers
// never interleave their read-modify-write cycles.
type FinetuneJobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

func NewFinetuneJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FinetuneJobStorage {
	return &FinetuneJobStorage{db: db, logger: logger}
}

func (s *FinetuneJobStorage) SaveFinetuneJob(ctx context.Context, job *models.FinetuneJob) error {
	job.Touch()
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save finetune job: %w", err)
	}
	return nil
}

func (s *FinetuneJobStorage) GetFinetuneJob(ctx context.Context, jobID string) (*models.FinetuneJob, error) {
	var job models.FinetuneJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get finetune job: %w", err)
	}
	if !job.IsLive() {
		return nil, models.ErrNotFound
	}
	return &job, nil
}

func (s *FinetuneJobStorage) ListFinetuneJobsByStatus(ctx context.Context, status models.FinetuneJobStatus) ([]*models.FinetuneJob, error) {
	var jobs []models.FinetuneJob
	query := badgerhold.Where("Status").Eq(status).And("IsDeleted").Eq(int64(0))
	if err := s.db.Store().Find(&jobs, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list finetune jobs: %w", err)
	}
	result := make([]*models.FinetuneJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *FinetuneJobStorage) UpdateFinetuneJob(ctx context.Context, jobID string, mutate func(*models.FinetuneJob) error) (*models.FinetuneJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetFinetuneJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := mutate(job); err != nil {
		return nil, err
	}
	if err := s.SaveFinetuneJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ReleaseStorage implements published artifact persistence for Badger
type ReleaseStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewReleaseStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ReleaseStorage {
	return &ReleaseStorage{db: db, logger: logger}
}

func (s *ReleaseStorage) SaveRelease(ctx context.Context, release *models.Release) error {
	release.Touch()
	if err := s.db.Store().Upsert(release.ID, release); err != nil {
		return fmt.Errorf("failed to save release: %w", err)
	}
	return nil
}

func (s *ReleaseStorage) GetRelease(ctx context.Context, groupID, releaseID string) (*models.Release, error) {
	var release models.Release
	if err := s.db.Store().Get(releaseID, &release); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get release: %w", err)
	}
	if !release.IsLive() || (groupID != "" && release.GroupID != groupID) {
		return nil, models.ErrNotFound
	}
	return &release, nil
}

func (s *ReleaseStorage) ListReleases(ctx context.Context, groupID string) ([]*models.Release, error) {
	var releases []models.Release
	query := badgerhold.Where("GroupID").Eq(groupID).And("IsDeleted").Eq(int64(0))
	if err := s.db.Store().Find(&releases, query.SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}
	result := make([]*models.Release, len(releases))
	for i := range releases {
		result[i] = &releases[i]
	}
	return result, nil
}

func (s *ReleaseStorage) CountReleasesByJob(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.Release{},
		badgerhold.Where("FinetuneJobID").Eq(jobID).And("IsDeleted").Eq(int64(0)))
	if err != nil {
		return 0, fmt.Errorf("failed to count releases: %w", err)
	}
	return int(count), nil
}
