package models

// DatasetType is the training stage a dataset version targets. Only SFT
// versions can currently be created; the other stages exist as labels on
// releases and adapters.
type DatasetType string

const (
	DatasetTypePT  DatasetType = "PT"
	DatasetTypeSFT DatasetType = "SFT"
	DatasetTypeDPO DatasetType = "DPO"
	DatasetTypeKTO DatasetType = "KTO"
)

// DatasetVersionOptions controls materialization
type DatasetVersionOptions struct {
	// OutputWithCot wraps answers as <think>{cot}<\think>\n{answer} when
	// the source row carries a non-empty chain of thought.
	OutputWithCot bool `json:"output_with_cot"`
}

// DatasetVersion is an immutable, file-materialized selection of Dataset
// rows. FilePath points at the JSONL file written at creation.
type DatasetVersion struct {
	BaseEntity
	ProjectID     string                `json:"project_id"`
	Name          string                `json:"name"`
	Description   string                `json:"description"`
	DatasetType   DatasetType           `json:"dataset_type"`
	DatasetIDList []string              `json:"dataset_id_list"`
	Options       DatasetVersionOptions `json:"options"`
	FilePath      string                `json:"file_path"`
}

// SFTRecord is one line of a materialized SFT dataset file
type SFTRecord struct {
	Instruction string `json:"instruction"`
	Input       string `json:"input"`
	Output      string `json:"output"`
}
