package interfaces

import (
	"context"

	"github.com/ternarybob/forge/internal/models"
)

// JobStorage persists pipeline jobs
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobsByStatus(ctx context.Context, groupID string, status models.JobStatus) ([]*models.Job, error)
	ListJobsByProject(ctx context.Context, groupID, projectID string) ([]*models.Job, error)
}

// ProjectStorage persists projects
type ProjectStorage interface {
	SaveProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, groupID, projectID string) (*models.Project, error)
	ListProjects(ctx context.Context, groupID string) ([]*models.Project, error)
}

// FileStorage persists ingested source documents
type FileStorage interface {
	SaveFile(ctx context.Context, file *models.File) error
	GetFile(ctx context.Context, groupID, fileID string) (*models.File, error)
	ListFilesByProject(ctx context.Context, groupID, projectID string) ([]*models.File, error)
}

// FilePairStorage persists file chunks
type FilePairStorage interface {
	SaveFilePair(ctx context.Context, pair *models.FilePair) error
	BulkSaveFilePairs(ctx context.Context, pairs []*models.FilePair) error
	GetFilePair(ctx context.Context, groupID, pairID string) (*models.FilePair, error)
	ListFilePairsByFile(ctx context.Context, groupID, fileID string) ([]*models.FilePair, error)
	DeleteFilePairsByFile(ctx context.Context, groupID, fileID string) error
}

// GAPairStorage persists genre/audience pairs
type GAPairStorage interface {
	SaveGAPair(ctx context.Context, pair *models.GAPair) error
	BulkSaveGAPairs(ctx context.Context, pairs []*models.GAPair) error
	ListGAPairsByFile(ctx context.Context, groupID, fileID string, enabledOnly bool) ([]*models.GAPair, error)
	DeleteGAPairsByFile(ctx context.Context, groupID, fileID string) error
}

// QuestionStorage persists generated questions
type QuestionStorage interface {
	SaveQuestion(ctx context.Context, question *models.Question) error
	GetQuestion(ctx context.Context, groupID, questionID string) (*models.Question, error)
	ListQuestionsByFilePair(ctx context.Context, groupID, filePairID string) ([]*models.Question, error)
	BulkDeleteQuestions(ctx context.Context, groupID string, questionIDs []string) error
	DeleteQuestionsByFile(ctx context.Context, groupID, fileID string) error
}

// DatasetStorage persists question/answer/CoT rows
type DatasetStorage interface {
	SaveDataset(ctx context.Context, dataset *models.Dataset) error
	GetDataset(ctx context.Context, groupID, datasetID string) (*models.Dataset, error)
	ListDatasetsByIDs(ctx context.Context, groupID string, ids []string) ([]*models.Dataset, error)
	DeleteDatasetsByQuestion(ctx context.Context, groupID, questionID string) error
	DeleteDatasetsByFile(ctx context.Context, groupID, fileID string) error
}

// TagStorage persists the per-project label forest
type TagStorage interface {
	SaveTag(ctx context.Context, tag *models.Tag) error
	ListTagsByProject(ctx context.Context, groupID, projectID string) ([]*models.Tag, error)
	ReplaceProjectTags(ctx context.Context, groupID, projectID string, tags []*models.Tag) error
}

// CatalogStorage persists extracted tables of contents
type CatalogStorage interface {
	UpsertCatalog(ctx context.Context, catalog *models.Catalog) error
	GetCatalogByFile(ctx context.Context, groupID, fileID string) (*models.Catalog, error)
	ListCatalogsByProject(ctx context.Context, groupID, projectID string) ([]*models.Catalog, error)
	DeleteCatalogsByFile(ctx context.Context, groupID, fileID string) error
}

// DatasetVersionStorage persists materialized dataset versions
type DatasetVersionStorage interface {
	SaveDatasetVersion(ctx context.Context, version *models.DatasetVersion) error
	GetDatasetVersion(ctx context.Context, groupID, versionID string) (*models.DatasetVersion, error)
	ListDatasetVersions(ctx context.Context, groupID, projectID string) ([]*models.DatasetVersion, error)
}

// MachineStorage persists remote GPU hosts
type MachineStorage interface {
	SaveMachine(ctx context.Context, machine *models.Machine) error
	GetMachine(ctx context.Context, groupID, machineID string) (*models.Machine, error)
	ListMachines(ctx context.Context, groupID string) ([]*models.Machine, error)
}

// FinetuneConfigStorage persists training hyperparameter groups
type FinetuneConfigStorage interface {
	SaveFinetuneConfig(ctx context.Context, config *models.FinetuneConfig) error
	GetFinetuneConfig(ctx context.Context, groupID, configID string) (*models.FinetuneConfig, error)
	ListFinetuneConfigs(ctx context.Context, groupID string) ([]*models.FinetuneConfig, error)
}

// FinetuneJobStorage persists training jobs. UpdateFinetuneJob applies
// the mutation under a per-store lock so concurrent watchers observe a
// serialized read-modify-write.
type FinetuneJobStorage interface {
	SaveFinetuneJob(ctx context.Context, job *models.FinetuneJob) error
	GetFinetuneJob(ctx context.Context, jobID string) (*models.FinetuneJob, error)
	ListFinetuneJobsByStatus(ctx context.Context, status models.FinetuneJobStatus) ([]*models.FinetuneJob, error)
	UpdateFinetuneJob(ctx context.Context, jobID string, mutate func(*models.FinetuneJob) error) (*models.FinetuneJob, error)
}

// ReleaseStorage persists published artifacts
type ReleaseStorage interface {
	SaveRelease(ctx context.Context, release *models.Release) error
	GetRelease(ctx context.Context, groupID, releaseID string) (*models.Release, error)
	ListReleases(ctx context.Context, groupID string) ([]*models.Release, error)
	CountReleasesByJob(ctx context.Context, jobID string) (int, error)
}

// DeployClusterStorage persists inference clusters. UpdateDeployCluster
// serializes mutations per store, which also serializes per-adapter
// state transitions.
type DeployClusterStorage interface {
	SaveDeployCluster(ctx context.Context, cluster *models.DeployCluster) error
	GetDeployCluster(ctx context.Context, clusterID string) (*models.DeployCluster, error)
	ListDeployClusters(ctx context.Context, groupID string) ([]*models.DeployCluster, error)
	ListDeployClustersByStatus(ctx context.Context, status models.DeployStatus) ([]*models.DeployCluster, error)
	UpdateDeployCluster(ctx context.Context, clusterID string, mutate func(*models.DeployCluster) error) (*models.DeployCluster, error)
}

// ProviderModelStorage persists LLM endpoint rows
type ProviderModelStorage interface {
	SaveProviderModel(ctx context.Context, model *models.ProviderModel) error
	GetDefaultProviderModel(ctx context.Context) (*models.ProviderModel, error)
}

// StorageManager aggregates every store over one connection
type StorageManager interface {
	Jobs() JobStorage
	Projects() ProjectStorage
	Files() FileStorage
	FilePairs() FilePairStorage
	GAPairs() GAPairStorage
	Questions() QuestionStorage
	Datasets() DatasetStorage
	Tags() TagStorage
	Catalogs() CatalogStorage
	DatasetVersions() DatasetVersionStorage
	Machines() MachineStorage
	FinetuneConfigs() FinetuneConfigStorage
	FinetuneJobs() FinetuneJobStorage
	Releases() ReleaseStorage
	DeployClusters() DeployClusterStorage
	ProviderModels() ProviderModelStorage
	Close() error
}
