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

// DeployClusterStorage implements inference cluster persistence. Mutations
// run under a store-level mutex, which serializes per-adapter transitions
// alongside cluster status changes.
type DeployClusterStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

func NewDeployClusterStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DeployClusterStorage {
	return &DeployClusterStorage{db: db, logger: logger}
}

func (s *DeployClusterStorage) SaveDeployCluster(ctx context.Context, cluster *models.DeployCluster) error {
	cluster.Touch()
	if err := s.db.Store().Upsert(cluster.ID, cluster); err != nil {
		return fmt.Errorf("failed to save deploy cluster: %w", err)
	}
	return nil
}

func (s *DeployClusterStorage) GetDeployCluster(ctx context.Context, clusterID string) (*models.DeployCluster, error) {
	var cluster models.DeployCluster
	if err := s.db.Store().Get(clusterID, &cluster); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get deploy cluster: %w", err)
	}
	if !cluster.IsLive() {
		return nil, models.ErrNotFound
	}
	return &cluster, nil
}

func (s *DeployClusterStorage) ListDeployClusters(ctx context.Context, groupID string) ([]*models.DeployCluster, error) {
	var clusters []models.DeployCluster
	query := badgerhold.Where("GroupID").Eq(groupID).And("IsDeleted").Eq(int64(0))
	if err := s.db.Store().Find(&clusters, query.SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list deploy clusters: %w", err)
	}
	result := make([]*models.DeployCluster, len(clusters))
	for i := range clusters {
		result[i] = &clusters[i]
	}
	return result, nil
}

func (s *DeployClusterStorage) ListDeployClustersByStatus(ctx context.Context, status models.DeployStatus) ([]*models.DeployCluster, error) {
	var clusters []models.DeployCluster
	query := badgerhold.Where("Status").Eq(status).And("IsDeleted").Eq(int64(0))
	if err := s.db.Store().Find(&clusters, query); err != nil {
		return nil, fmt.Errorf("failed to list deploy clusters by status: %w", err)
	}
	result := make([]*models.DeployCluster, len(clusters))
	for i := range clusters {
		result[i] = &clusters[i]
	}
	return result, nil
}

func (s *DeployClusterStorage) UpdateDeployCluster(ctx context.Context, clusterID string, mutate func(*models.DeployCluster) error) (*models.DeployCluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cluster, err := s.GetDeployCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	if err := mutate(cluster); err != nil {
		return nil, err
	}
	if err := s.SaveDeployCluster(ctx, cluster); err != nil {
		return nil, err
	}
	return cluster, nil
}

// ProviderModelStorage implements LLM endpoint persistence for Badger
type ProviderModelStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewProviderModelStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProviderModelStorage {
	return &ProviderModelStorage{db: db, logger: logger}
}

func (s *ProviderModelStorage) SaveProviderModel(ctx context.Context, model *models.ProviderModel) error {
	model.Touch()
	if err := s.db.Store().Upsert(model.ID, model); err != nil {
		return fmt.Errorf("failed to save provider model: %w", err)
	}
	return nil
}

func (s *ProviderModelStorage) GetDefaultProviderModel(ctx context.Context) (*models.ProviderModel, error) {
	var providers []models.ProviderModel
	query := badgerhold.Where("IsDefault").Eq(true).And("IsDeleted").Eq(int64(0))
	if err := s.db.Store().Find(&providers, query.Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to get default provider model: %w", err)
	}
	if len(providers) == 0 {
		return nil, models.ErrNotFound
	}
	return &providers[0], nil
}
