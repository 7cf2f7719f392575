package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/forge/internal/interfaces"
	"github.com/ternarybob/forge/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// liveQuery builds the common group + not-deleted filter
func liveQuery(field string, value interface{}, groupID string) *badgerhold.Query {
	return badgerhold.Where(field).Eq(value).
		And("GroupID").Eq(groupID).
		And("IsDeleted").Eq(int64(0))
}

// ProjectStorage implements project persistence for Badger
type ProjectStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewProjectStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProjectStorage {
	return &ProjectStorage{db: db, logger: logger}
}

func (s *ProjectStorage) SaveProject(ctx context.Context, project *models.Project) error {
	project.Touch()
	if err := s.db.Store().Upsert(project.ID, project); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

func (s *ProjectStorage) GetProject(ctx context.Context, groupID, projectID string) (*models.Project, error) {
	var project models.Project
	if err := s.db.Store().Get(projectID, &project); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if !project.IsLive() || project.GroupID != groupID {
		return nil, models.ErrNotFound
	}
	return &project, nil
}

func (s *ProjectStorage) ListProjects(ctx context.Context, groupID string) ([]*models.Project, error) {
	var projects []models.Project
	query := badgerhold.Where("GroupID").Eq(groupID).And("IsDeleted").Eq(int64(0))
	if err := s.db.Store().Find(&projects, query.SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	result := make([]*models.Project, len(projects))
	for i := range projects {
		result[i] = &projects[i]
	}
	return result, nil
}

// FileStorage implements source document persistence for Badger
type FileStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewFileStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FileStorage {
	return &FileStorage{db: db, logger: logger}
}

func (s *FileStorage) SaveFile(ctx context.Context, file *models.File) error {
	file.Touch()
	if err := s.db.Store().Upsert(file.ID, file); err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}

func (s *FileStorage) GetFile(ctx context.Context, groupID, fileID string) (*models.File, error) {
	var file models.File
	if err := s.db.Store().Get(fileID, &file); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	if !file.IsLive() || file.GroupID != groupID {
		return nil, models.ErrNotFound
	}
	return &file, nil
}

func (s *FileStorage) ListFilesByProject(ctx context.Context, groupID, projectID string) ([]*models.File, error) {
	var files []models.File
	if err := s.db.Store().Find(&files, liveQuery("ProjectID", projectID, groupID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	result := make([]*models.File, len(files))
	for i := range files {
		result[i] = &files[i]
	}
	return result, nil
}

// FilePairStorage implements chunk persistence for Badger
type FilePairStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewFilePairStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FilePairStorage {
	return &FilePairStorage{db: db, logger: logger}
}

func (s *FilePairStorage) SaveFilePair(ctx context.Context, pair *models.FilePair) error {
	pair.Touch()
	if err := s.db.Store().Upsert(pair.ID, pair); err != nil {
		return fmt.Errorf("failed to save file pair: %w", err)
	}
	return nil
}

func (s *FilePairStorage) BulkSaveFilePairs(ctx context.Context, pairs []*models.FilePair) error {
	for _, pair := range pairs {
		if err := s.SaveFilePair(ctx, pair); err != nil {
			return err
		}
	}
	return nil
}

func (s *FilePairStorage) GetFilePair(ctx context.Context, groupID, pairID string) (*models.FilePair, error) {
	var pair models.FilePair
	if err := s.db.Store().Get(pairID, &pair); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file pair: %w", err)
	}
	if !pair.IsLive() || pair.GroupID != groupID {
		return nil, models.ErrNotFound
	}
	return &pair, nil
}

func (s *FilePairStorage) ListFilePairsByFile(ctx context.Context, groupID, fileID string) ([]*models.FilePair, error) {
	var pairs []models.FilePair
	if err := s.db.Store().Find(&pairs, liveQuery("FileID", fileID, groupID).SortBy("ChunkIndex")); err != nil {
		return nil, fmt.Errorf("failed to list file pairs: %w", err)
	}
	result := make([]*models.FilePair, len(pairs))
	for i := range pairs {
		result[i] = &pairs[i]
	}
	return result, nil
}

func (s *FilePairStorage) DeleteFilePairsByFile(ctx context.Context, groupID, fileID string) error {
	pairs, err := s.ListFilePairsByFile(ctx, groupID, fileID)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		pair.SoftDelete()
		if err := s.db.Store().Upsert(pair.ID, pair); err != nil {
			return fmt.Errorf("failed to delete file pair: %w", err)
		}
	}
	return nil
}

// GAPairStorage implements genre/audience pair persistence for Badger
type GAPairStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewGAPairStorage(db *BadgerDB, logger arbor.ILogger) interfaces.GAPairStorage {
	return &GAPairStorage{db: db, logger: logger}
}

func (s *GAPairStorage) SaveGAPair(ctx context.Context, pair *models.GAPair) error {
	pair.Touch()
	if err := s.db.Store().Upsert(pair.ID, pair); err != nil {
		return fmt.Errorf("failed to save ga pair: %w", err)
	}
	return nil
}

func (s *GAPairStorage) BulkSaveGAPairs(ctx context.Context, pairs []*models.GAPair) error {
	for _, pair := range pairs {
		if err := s.SaveGAPair(ctx, pair); err != nil {
			return err
		}
	}
	return nil
}

func (s *GAPairStorage) ListGAPairsByFile(ctx context.Context, groupID, fileID string, enabledOnly bool) ([]*models.GAPair, error) {
	query := liveQuery("FileID", fileID, groupID)
	if enabledOnly {
		query = query.And("Enabled").Eq(true)
	}
	var pairs []models.GAPair
	if err := s.db.Store().Find(&pairs, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list ga pairs: %w", err)
	}
	result := make([]*models.GAPair, len(pairs))
	for i := range pairs {
		result[i] = &pairs[i]
	}
	return result, nil
}

func (s *GAPairStorage) DeleteGAPairsByFile(ctx context.Context, groupID, fileID string) error {
	pairs, err := s.ListGAPairsByFile(ctx, groupID, fileID, false)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		pair.SoftDelete()
		if err := s.db.Store().Upsert(pair.ID, pair); err != nil {
			return fmt.Errorf("failed to delete ga pair: %w", err)
		}
	}
	return nil
}

// QuestionStorage implements question persistence for Badger
type QuestionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewQuestionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.QuestionStorage {
	return &QuestionStorage{db: db, logger: logger}
}

func (s *QuestionStorage) SaveQuestion(ctx context.Context, question *models.Question) error {
	question.Touch()
	if err := s.db.Store().Upsert(question.ID, question); err != nil {
		return fmt.Errorf("failed to save question: %w", err)
	}
	return nil
}

func (s *QuestionStorage) GetQuestion(ctx context.Context, groupID, questionID string) (*models.Question, error) {
	var question models.Question
	if err := s.db.Store().Get(questionID, &question); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	if !question.IsLive() || question.GroupID != groupID {
		return nil, models.ErrNotFound
	}
	return &question, nil
}

func (s *QuestionStorage) ListQuestionsByFilePair(ctx context.Context, groupID, filePairID string) ([]*models.Question, error) {
	var questions []models.Question
	if err := s.db.Store().Find(&questions, liveQuery("FilePairID", filePairID, groupID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	result := make([]*models.Question, len(questions))
	for i := range questions {
		result[i] = &questions[i]
	}
	return result, nil
}

func (s *QuestionStorage) BulkDeleteQuestions(ctx context.Context, groupID string, questionIDs []string) error {
	for _, id := range questionIDs {
		question, err := s.GetQuestion(ctx, groupID, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return err
		}
		question.SoftDelete()
		if err := s.db.Store().Upsert(question.ID, question); err != nil {
			return fmt.Errorf("failed to delete question: %w", err)
		}
	}
	return nil
}

func (s *QuestionStorage) DeleteQuestionsByFile(ctx context.Context, groupID, fileID string) error {
	var questions []models.Question
	if err := s.db.Store().Find(&questions, liveQuery("FileID", fileID, groupID)); err != nil {
		return fmt.Errorf("failed to list questions by file: %w", err)
	}
	for i := range questions {
		questions[i].SoftDelete()
		if err := s.db.Store().Upsert(questions[i].ID, &questions[i]); err != nil {
			return fmt.Errorf("failed to delete question: %w", err)
		}
	}
	return nil
}

// DatasetStorage implements Q/A/CoT row persistence for Badger
type DatasetStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewDatasetStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DatasetStorage {
	return &DatasetStorage{db: db, logger: logger}
}

func (s *DatasetStorage) SaveDataset(ctx context.Context, dataset *models.Dataset) error {
	dataset.Touch()
	if err := s.db.Store().Upsert(dataset.ID, dataset); err != nil {
		return fmt.Errorf("failed to save dataset: %w", err)
	}
	return nil
}

func (s *DatasetStorage) GetDataset(ctx context.Context, groupID, datasetID string) (*models.Dataset, error) {
	var dataset models.Dataset
	if err := s.db.Store().Get(datasetID, &dataset); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	if !dataset.IsLive() || dataset.GroupID != groupID {
		return nil, models.ErrNotFound
	}
	return &dataset, nil
}

func (s *DatasetStorage) ListDatasetsByIDs(ctx context.Context, groupID string, ids []string) ([]*models.Dataset, error) {
	result := make([]*models.Dataset, 0, len(ids))
	for _, id := range ids {
		dataset, err := s.GetDataset(ctx, groupID, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, dataset)
	}
	return result, nil
}

func (s *DatasetStorage) DeleteDatasetsByQuestion(ctx context.Context, groupID, questionID string) error {
	var datasets []models.Dataset
	if err := s.db.Store().Find(&datasets, liveQuery("QuestionID", questionID, groupID)); err != nil {
		return fmt.Errorf("failed to list datasets by question: %w", err)
	}
	for i := range datasets {
		datasets[i].SoftDelete()
		if err := s.db.Store().Upsert(datasets[i].ID, &datasets[i]); err != nil {
			return fmt.Errorf("failed to delete dataset: %w", err)
		}
	}
	return nil
}

func (s *DatasetStorage) DeleteDatasetsByFile(ctx context.Context, groupID, fileID string) error {
	// Dataset rows do not reference files directly; walk via questions.
	var questions []models.Question
	if err := s.db.Store().Find(&questions, badgerhold.Where("FileID").Eq(fileID).And("GroupID").Eq(groupID)); err != nil {
		return fmt.Errorf("failed to list questions by file: %w", err)
	}
	for i := range questions {
		if err := s.DeleteDatasetsByQuestion(ctx, groupID, questions[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// TagStorage implements tag forest persistence for Badger
type TagStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewTagStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TagStorage {
	return &TagStorage{db: db, logger: logger}
}

func (s *TagStorage) SaveTag(ctx context.Context, tag *models.Tag) error {
	tag.Touch()
	if err := s.db.Store().Upsert(tag.ID, tag); err != nil {
		return fmt.Errorf("failed to save tag: %w", err)
	}
	return nil
}

func (s *TagStorage) ListTagsByProject(ctx context.Context, groupID, projectID string) ([]*models.Tag, error) {
	var tags []models.Tag
	if err := s.db.Store().Find(&tags, liveQuery("ProjectID", projectID, groupID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	result := make([]*models.Tag, len(tags))
	for i := range tags {
		result[i] = &tags[i]
	}
	return result, nil
}

func (s *TagStorage) ReplaceProjectTags(ctx context.Context, groupID, projectID string, tags []*models.Tag) error {
	existing, err := s.ListTagsByProject(ctx, groupID, projectID)
	if err != nil {
		return err
	}
	for _, tag := range existing {
		tag.SoftDelete()
		if err := s.db.Store().Upsert(tag.ID, tag); err != nil {
			return fmt.Errorf("failed to delete tag: %w", err)
		}
	}
	for _, tag := range tags {
		if err := s.SaveTag(ctx, tag); err != nil {
			return err
		}
	}
	return nil
}

// CatalogStorage implements table-of-contents persistence for Badger
type CatalogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewCatalogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CatalogStorage {
	return &CatalogStorage{db: db, logger: logger}
}

func (s *CatalogStorage) UpsertCatalog(ctx context.Context, catalog *models.Catalog) error {
	existing, err := s.GetCatalogByFile(ctx, catalog.GroupID, catalog.FileID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	if existing != nil {
		existing.TocJSON = catalog.TocJSON
		existing.Touch()
		if err := s.db.Store().Upsert(existing.ID, existing); err != nil {
			return fmt.Errorf("failed to update catalog: %w", err)
		}
		return nil
	}
	catalog.Touch()
	if err := s.db.Store().Upsert(catalog.ID, catalog); err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	return nil
}

func (s *CatalogStorage) GetCatalogByFile(ctx context.Context, groupID, fileID string) (*models.Catalog, error) {
	var catalogs []models.Catalog
	if err := s.db.Store().Find(&catalogs, liveQuery("FileID", fileID, groupID).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}
	if len(catalogs) == 0 {
		return nil, models.ErrNotFound
	}
	return &catalogs[0], nil
}

func (s *CatalogStorage) ListCatalogsByProject(ctx context.Context, groupID, projectID string) ([]*models.Catalog, error) {
	var catalogs []models.Catalog
	if err := s.db.Store().Find(&catalogs, liveQuery("ProjectID", projectID, groupID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list catalogs: %w", err)
	}
	result := make([]*models.Catalog, len(catalogs))
	for i := range catalogs {
		result[i] = &catalogs[i]
	}
	return result, nil
}

func (s *CatalogStorage) DeleteCatalogsByFile(ctx context.Context, groupID, fileID string) error {
	var catalogs []models.Catalog
	if err := s.db.Store().Find(&catalogs, liveQuery("FileID", fileID, groupID)); err != nil {
		return fmt.Errorf("failed to list catalogs by file: %w", err)
	}
	for i := range catalogs {
		catalogs[i].SoftDelete()
		if err := s.db.Store().Upsert(catalogs[i].ID, &catalogs[i]); err != nil {
			return fmt.Errorf("failed to delete catalog: %w", err)
		}
	}
	return nil
}
