// Package dataset materializes immutable dataset versions as JSONL
// files and stages their JSON form for training frameworks that cannot
// read JSONL.
package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/forge/internal/i18n"
	"github.com/ternarybob/forge/internal/interfaces"
	"github.com/ternarybob/forge/internal/models"
	"github.com/ternarybob/forge/internal/remote/paths"
)

// Service creates and deletes dataset versions. A version's file is
// written once at creation and never rewritten.
type Service struct {
	versions interfaces.DatasetVersionStorage
	datasets interfaces.DatasetStorage
	layout   paths.Layout
	logger   arbor.ILogger
}

func NewService(versions interfaces.DatasetVersionStorage, datasets interfaces.DatasetStorage, layout paths.Layout, logger arbor.ILogger) *Service {
	return &Service{
		versions: versions,
		datasets: datasets,
		layout:   layout,
		logger:   logger.WithPrefix("dataset"),
	}
}

// CreateVersionInput is the caller-facing shape of a version request
type CreateVersionInput struct {
	UserID        string
	GroupID       string
	ProjectID     string
	Name          string
	Description   string
	DatasetType   models.DatasetType
	DatasetIDList []string
	Options       models.DatasetVersionOptions
}

// CreateVersion snapshots the selected rows into a JSONL file and
// persists the version row pointing at it.
func (s *Service) CreateVersion(ctx context.Context, in CreateVersionInput) (*models.DatasetVersion, error) {
	if in.DatasetType != models.DatasetTypeSFT {
		return nil, models.NewValidationError("%s", i18n.T(i18n.LocaleEN, "finetune.stage_unsupported"))
	}
	if len(in.DatasetIDList) == 0 {
		return nil, models.NewValidationError("dataset id list is empty")
	}

	rows, err := s.datasets.ListDatasetsByIDs(ctx, in.GroupID, in.DatasetIDList)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, models.NewValidationError("no datasets found for the selected ids")
	}

	version := &models.DatasetVersion{
		BaseEntity:    models.NewBaseEntity(in.UserID, in.GroupID),
		ProjectID:     in.ProjectID,
		Name:          in.Name,
		Description:   in.Description,
		DatasetType:   in.DatasetType,
		DatasetIDList: in.DatasetIDList,
		Options:       in.Options,
	}
	version.FilePath = s.layout.LocalDatasetVersion(version.ID)

	if err := writeSFTFile(version.FilePath, rows, in.Options.OutputWithCot); err != nil {
		return nil, err
	}
	if err := s.versions.SaveDatasetVersion(ctx, version); err != nil {
		// keep the store authoritative: drop the orphaned file
		os.Remove(version.FilePath)
		return nil, err
	}

	s.logger.Info().
		Str("version_id", version.ID).
		Int("rows", len(rows)).
		Str("file", version.FilePath).
		Msg("Dataset version materialized")
	return version, nil
}

func (s *Service) GetVersion(ctx context.Context, groupID, versionID string) (*models.DatasetVersion, error) {
	return s.versions.GetDatasetVersion(ctx, groupID, versionID)
}

func (s *Service) ListVersions(ctx context.Context, groupID, projectID string) ([]*models.DatasetVersion, error) {
	return s.versions.ListDatasetVersions(ctx, groupID, projectID)
}

// DeleteVersion soft-deletes the row and removes the materialized files
func (s *Service) DeleteVersion(ctx context.Context, groupID, versionID string) error {
	version, err := s.versions.GetDatasetVersion(ctx, groupID, versionID)
	if err != nil {
		return err
	}
	version.SoftDelete()
	if err := s.versions.SaveDatasetVersion(ctx, version); err != nil {
		return err
	}

	for _, file := range []string{version.FilePath, s.layout.LocalDatasetJSON(versionID)} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("file", file).Msg("Failed to remove version file")
		}
	}
	return nil
}

// writeSFTFile writes one SFT record per line. With CoT enabled, rows
// carrying a chain of thought get the wrapped output form.
func writeSFTFile(path string, rows []*models.Dataset, withCot bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create dataset version dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dataset version file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, row := range rows {
		record := models.SFTRecord{
			Instruction: row.Question,
			Output:      row.Answer,
		}
		if withCot && row.Cot != "" {
			record.Output = fmt.Sprintf("<think>%s<\\think>\n%s", row.Cot, row.Answer)
		}
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode dataset record: %w", err)
		}
		if _, err := writer.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to write dataset record: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush dataset version file: %w", err)
	}
	return nil
}

// StageJSON converts the version's JSONL file into a JSON array file
// beside it and returns the JSON path. The conversion is cached: an
// existing output file is reused as-is.
func (s *Service) StageJSON(versionID string) (string, error) {
	jsonPath := s.layout.LocalDatasetJSON(versionID)
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath, nil
	}

	source, err := os.Open(s.layout.LocalDatasetVersion(versionID))
	if err != nil {
		return "", fmt.Errorf("failed to open dataset version file: %w", err)
	}
	defer source.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(source)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		records = append(records, append(json.RawMessage(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read dataset version file: %w", err)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to encode dataset array: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write staged dataset file: %w", err)
	}
	return jsonPath, nil
}
