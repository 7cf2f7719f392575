package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/forge/internal/common"
	"github.com/ternarybob/forge/internal/interfaces"
)

// Manager aggregates every store over a single Badger connection
type Manager struct {
	db              *BadgerDB
	jobs            interfaces.JobStorage
	projects        interfaces.ProjectStorage
	files           interfaces.FileStorage
	filePairs       interfaces.FilePairStorage
	gaPairs         interfaces.GAPairStorage
	questions       interfaces.QuestionStorage
	datasets        interfaces.DatasetStorage
	tags            interfaces.TagStorage
	catalogs        interfaces.CatalogStorage
	datasetVersions interfaces.DatasetVersionStorage
	machines        interfaces.MachineStorage
	finetuneConfigs interfaces.FinetuneConfigStorage
	finetuneJobs    interfaces.FinetuneJobStorage
	releases        interfaces.ReleaseStorage
	deployClusters  interfaces.DeployClusterStorage
	providerModels  interfaces.ProviderModelStorage
}

// NewManager opens the database and wires all stores
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:              db,
		jobs:            NewJobStorage(db, logger),
		projects:        NewProjectStorage(db, logger),
		files:           NewFileStorage(db, logger),
		filePairs:       NewFilePairStorage(db, logger),
		gaPairs:         NewGAPairStorage(db, logger),
		questions:       NewQuestionStorage(db, logger),
		datasets:        NewDatasetStorage(db, logger),
		tags:            NewTagStorage(db, logger),
		catalogs:        NewCatalogStorage(db, logger),
		datasetVersions: NewDatasetVersionStorage(db, logger),
		machines:        NewMachineStorage(db, logger),
		finetuneConfigs: NewFinetuneConfigStorage(db, logger),
		finetuneJobs:    NewFinetuneJobStorage(db, logger),
		releases:        NewReleaseStorage(db, logger),
		deployClusters:  NewDeployClusterStorage(db, logger),
		providerModels:  NewProviderModelStorage(db, logger),
	}, nil
}

func (m *Manager) Jobs() interfaces.JobStorage                       { return m.jobs }
func (m *Manager) Projects() interfaces.ProjectStorage               { return m.projects }
func (m *Manager) Files() interfaces.FileStorage                     { return m.files }
func (m *Manager) FilePairs() interfaces.FilePairStorage             { return m.filePairs }
func (m *Manager) GAPairs() interfaces.GAPairStorage                 { return m.gaPairs }
func (m *Manager) Questions() interfaces.QuestionStorage             { return m.questions }
func (m *Manager) Datasets() interfaces.DatasetStorage               { return m.datasets }
func (m *Manager) Tags() interfaces.TagStorage                       { return m.tags }
func (m *Manager) Catalogs() interfaces.CatalogStorage               { return m.catalogs }
func (m *Manager) DatasetVersions() interfaces.DatasetVersionStorage { return m.datasetVersions }
func (m *Manager) Machines() interfaces.MachineStorage               { return m.machines }
func (m *Manager) FinetuneConfigs() interfaces.FinetuneConfigStorage { return m.finetuneConfigs }
func (m *Manager) FinetuneJobs() interfaces.FinetuneJobStorage       { return m.finetuneJobs }
func (m *Manager) Releases() interfaces.ReleaseStorage               { return m.releases }
func (m *Manager) DeployClusters() interfaces.DeployClusterStorage   { return m.deployClusters }
func (m *Manager) ProviderModels() interfaces.ProviderModelStorage   { return m.providerModels }

// Close releases the underlying connection
func (m *Manager) Close() error {
	return m.db.Close()
}
