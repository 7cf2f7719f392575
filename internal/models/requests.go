package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// SplitType selects the chunking strategy for file ingestion
type SplitType string

const (
	SplitTypeMarkdown  SplitType = "markdown"
	SplitTypeRecursive SplitType = "recursive"
	SplitTypeText      SplitType = "text"
	SplitTypeToken     SplitType = "token"
	SplitTypeCode      SplitType = "code"
)

// TocBuildAction controls how the tag tree reacts to catalog changes
type TocBuildAction string

const (
	TocActionKeep    TocBuildAction = "Keep"
	TocActionRebuild TocBuildAction = "Rebuild"
	TocActionRevise  TocBuildAction = "Revise"
)

// FilePairRequest is the input blob of a FilePairGenerator job
type FilePairRequest struct {
	FileIDList     []string       `json:"file_id_list" validate:"required,min=1"`
	SplitType      SplitType      `json:"split_type" validate:"required,oneof=markdown recursive text token code"`
	ChunkSize      int            `json:"chunk_size"`
	TocBuildAction TocBuildAction `json:"toc_build_action" validate:"required,oneof=Keep Rebuild Revise"`
}

// FileDeleteRequest is the input blob of a FileDeleteGenerator job
type FileDeleteRequest struct {
	FileIDList []string `json:"file_id_list" validate:"required,min=1"`
}

// GaPairRequest is the input blob of a GaPairGenerator job
type GaPairRequest struct {
	FileIDList []string `json:"file_id_list" validate:"required,min=1"`
	AppendMode bool     `json:"append_mode"`
	Count      int      `json:"count"`
}

// QuestionRequest is the input blob of a QuestionGenerator job
type QuestionRequest struct {
	FilePairIDList []string `json:"file_pair_id_list" validate:"required,min=1"`
	Number         int      `json:"number"`
	UseGaGenerator bool     `json:"use_ga_generator"`
}

// DatasetRequest is the input blob of a DatasetGenerator job
type DatasetRequest struct {
	QuestionIDList []string `json:"question_id_list" validate:"required,min=1"`
}

// TagRequest is the input blob of a TagGenerator job. DeletedContent and
// NewContent carry TOC diffs for the Revise action.
type TagRequest struct {
	ProjectID      string         `json:"project_id" validate:"required"`
	TocBuildAction TocBuildAction `json:"toc_build_action" validate:"required,oneof=Keep Rebuild Revise"`
	DeletedContent string         `json:"deleted_content"`
	NewContent     string         `json:"new_content"`
}

func decodeRequest(blob string, out interface{}) error {
	if err := json.Unmarshal([]byte(blob), out); err != nil {
		return fmt.Errorf("failed to decode job input: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return NewValidationError("invalid job input: %v", err)
	}
	return nil
}

// DecodeFilePairRequest parses and validates a FilePairGenerator blob
func DecodeFilePairRequest(blob string) (*FilePairRequest, error) {
	req := &FilePairRequest{}
	if err := decodeRequest(blob, req); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeFileDeleteRequest parses and validates a FileDeleteGenerator blob
func DecodeFileDeleteRequest(blob string) (*FileDeleteRequest, error) {
	req := &FileDeleteRequest{}
	if err := decodeRequest(blob, req); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeGaPairRequest parses and validates a GaPairGenerator blob
func DecodeGaPairRequest(blob string) (*GaPairRequest, error) {
	req := &GaPairRequest{}
	if err := decodeRequest(blob, req); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeQuestionRequest parses and validates a QuestionGenerator blob
func DecodeQuestionRequest(blob string) (*QuestionRequest, error) {
	req := &QuestionRequest{}
	if err := decodeRequest(blob, req); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeDatasetRequest parses and validates a DatasetGenerator blob
func DecodeDatasetRequest(blob string) (*DatasetRequest, error) {
	req := &DatasetRequest{}
	if err := decodeRequest(blob, req); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeTagRequest parses and validates a TagGenerator blob
func DecodeTagRequest(blob string) (*TagRequest, error) {
	req := &TagRequest{}
	if err := decodeRequest(blob, req); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeRequest serializes a typed request into a job input blob
func EncodeRequest(req interface{}) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode job input: %w", err)
	}
	return string(data), nil
}
